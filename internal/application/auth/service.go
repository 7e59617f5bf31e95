// Package auth implements registration, email verification and the login
// flows (password and one-time code), plus password reset. Every flow that
// hands out a session token goes through the same JWT signer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aurax-platform/identity-api/internal/application/otp"
	"github.com/aurax-platform/identity-api/internal/domain"
	"github.com/aurax-platform/identity-api/internal/infrastructure/sns"
	"github.com/aurax-platform/identity-api/internal/pkg/id"
	"github.com/aurax-platform/identity-api/internal/pkg/validate"
)

const bcryptCost = 12

// Users is the slice of user persistence this package needs.
type Users interface {
	Put(ctx context.Context, u *domain.User) error
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
}

// TokenSigner mints session tokens once a flow has proven the caller's identity.
type TokenSigner interface {
	Sign(userID, email, role string) (string, error)
}

// Session is the result of any successful authentication flow.
type Session struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

type Service interface {
	Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error)
	VerifyEmail(ctx context.Context, email, code string) (*Session, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	RequestLoginCode(ctx context.Context, email string) error
	LoginWithCode(ctx context.Context, email, code string) (*Session, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

type service struct {
	users  Users
	otps   otp.Service
	signer TokenSigner
	ops    sns.OpsPublisher
}

func NewService(users Users, otps otp.Service, signer TokenSigner, ops sns.OpsPublisher) Service {
	return &service{users: users, otps: otps, signer: signer, ops: ops}
}

// Register creates an unverified account and issues a registration code to
// the new address. Email and username are unique; the account stays unable to
// log in until VerifyEmail succeeds.
func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrBadRequest, err)
	}
	email := domain.NormalizeRecipient(req.Email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("username already taken: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = domain.RoleCreator
	}
	now := time.Now().UTC()
	user := &domain.User{
		UserID:       id.New(),
		Username:     req.Username,
		Email:        email,
		Phone:        req.Phone,
		PasswordHash: string(hash),
		Role:         role,
		Enable:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Put(ctx, user); err != nil {
		return nil, err
	}

	if _, err := s.otps.Issue(ctx, email, domain.PurposeRegistration); err != nil {
		// The account exists; the caller can request a fresh code.
		return nil, fmt.Errorf("account created but verification code could not be sent: %w", err)
	}

	if s.ops != nil {
		if err := s.ops.Publish(ctx, "New registration", fmt.Sprintf("New %s account: %s", role, email)); err != nil {
			slog.Warn("ops notification failed", "error", err)
		}
	}

	slog.Info("user registered", "user_id", user.UserID, "role", role)
	return user, nil
}

// VerifyEmail redeems a registration code and flips the account to verified.
func (s *service) VerifyEmail(ctx context.Context, email, code string) (*Session, error) {
	email = domain.NormalizeRecipient(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrOTPInvalid
		}
		return nil, err
	}
	if user.Verified {
		return nil, fmt.Errorf("email already verified: %w", domain.ErrConflict)
	}

	if err := s.otps.Verify(ctx, email, code, domain.PurposeRegistration); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.users.Update(ctx, user.UserID, map[string]interface{}{
		"verified":    true,
		"verified_at": now.Format(time.RFC3339),
		"updated_at":  now.Format(time.RFC3339),
	}); err != nil {
		return nil, err
	}
	user.Verified = true
	user.VerifiedAt = &now

	slog.Info("email verified", "user_id", user.UserID)
	return s.newSession(user)
}

// Login authenticates with email and password.
func (s *service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = domain.NormalizeRecipient(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}
	if !user.Enable {
		return nil, fmt.Errorf("account disabled: %w", domain.ErrForbidden)
	}
	if !user.Verified {
		// Nudge the user back into the verification flow. Cooldown errors are
		// expected when they retry quickly; the refusal stands either way.
		if _, err := s.otps.Issue(ctx, email, domain.PurposeRegistration); err != nil && !errors.Is(err, domain.ErrRateLimited) {
			slog.Warn("reissue verification code on unverified login", "user_id", user.UserID, "error", err)
		}
		return nil, fmt.Errorf("email not verified, a new verification code has been sent: %w", domain.ErrForbidden)
	}
	return s.newSession(user)
}

// RequestLoginCode issues a login code if the address belongs to an account
// able to log in. Unknown, disabled and unverified addresses all get the same
// nil answer so the endpoint does not reveal which emails are registered.
func (s *service) RequestLoginCode(ctx context.Context, email string) error {
	email = domain.NormalizeRecipient(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := loginEligible(user); err != nil {
		slog.Info("login code request for ineligible account", "user_id", user.UserID)
		return nil
	}
	_, err = s.otps.Issue(ctx, email, domain.PurposeLogin)
	return err
}

// LoginWithCode redeems a login code for a session.
func (s *service) LoginWithCode(ctx context.Context, email, code string) (*Session, error) {
	email = domain.NormalizeRecipient(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrOTPInvalid
		}
		return nil, err
	}
	if err := loginEligible(user); err != nil {
		return nil, err
	}
	if err := s.otps.Verify(ctx, email, code, domain.PurposeLogin); err != nil {
		return nil, err
	}
	return s.newSession(user)
}

// RequestPasswordReset issues a reset code. Like RequestLoginCode it answers
// nil for unknown addresses.
func (s *service) RequestPasswordReset(ctx context.Context, email string) error {
	email = domain.NormalizeRecipient(email)
	if _, err := s.users.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err := s.otps.Issue(ctx, email, domain.PurposePasswordReset)
	return err
}

// ResetPassword redeems a reset code and replaces the password hash.
func (s *service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = domain.NormalizeRecipient(email)
	if len(newPassword) < 8 || len(newPassword) > 72 {
		return fmt.Errorf("password must be between 8 and 72 characters: %w", domain.ErrBadRequest)
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrOTPInvalid
		}
		return err
	}

	if err := s.otps.Verify(ctx, email, code, domain.PurposePasswordReset); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.Update(ctx, user.UserID, map[string]interface{}{
		"password_hash": string(hash),
		"updated_at":    time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}

	slog.Info("password reset", "user_id", user.UserID)
	return nil
}

func (s *service) newSession(user *domain.User) (*Session, error) {
	token, err := s.signer.Sign(user.UserID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &Session{Token: token, User: user}, nil
}

func loginEligible(user *domain.User) error {
	if !user.Enable {
		return fmt.Errorf("account disabled: %w", domain.ErrForbidden)
	}
	if !user.Verified {
		return fmt.Errorf("email not verified: %w", domain.ErrForbidden)
	}
	return nil
}
