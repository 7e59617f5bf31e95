package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aurax-platform/identity-api/internal/application/otp"
	"github.com/aurax-platform/identity-api/internal/domain"
)

type fakeUsers struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]*domain.User)}
}

func (f *fakeUsers) Put(_ context.Context, u *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.byID[u.UserID] = &cp
	return nil
}

func (f *fakeUsers) Get(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUsers) Update(_ context.Context, userID string, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if v, ok := updates["verified"].(bool); ok {
		u.Verified = v
	}
	if v, ok := updates["password_hash"].(string); ok {
		u.PasswordHash = v
	}
	return nil
}

// fakeOTP records issued purposes and accepts a single hard-coded code.
type fakeOTP struct {
	mu        sync.Mutex
	issued    []string // recipient|purpose
	code      string
	verifyErr error
	issueErr  error
}

func (f *fakeOTP) Issue(_ context.Context, recipient string, purpose domain.OTPPurpose) (*otp.IssueResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.issued = append(f.issued, recipient+"|"+string(purpose))
	return &otp.IssueResult{ExpiresAt: time.Now().Add(10 * time.Minute)}, nil
}

func (f *fakeOTP) Verify(_ context.Context, recipient, claimed string, purpose domain.OTPPurpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return f.verifyErr
	}
	if claimed != f.code {
		return domain.ErrOTPInvalid
	}
	return nil
}

func (f *fakeOTP) CleanupExpired(context.Context) (int, error) { return 0, nil }

type fakeSigner struct{}

func (fakeSigner) Sign(userID, email, role string) (string, error) {
	return "token-for-" + userID, nil
}

func registerReq() domain.RegisterRequest {
	return domain.RegisterRequest{
		Username: "creator_one",
		Email:    "Creator@Example.com",
		Password: "s3cretpass",
		Role:     domain.RoleCreator,
	}
}

func TestRegister(t *testing.T) {
	users := newFakeUsers()
	otps := &fakeOTP{code: "123456"}
	svc := NewService(users, otps, fakeSigner{}, nil)

	user, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)
	assert.Equal(t, "creator@example.com", user.Email)
	assert.False(t, user.Verified)
	assert.True(t, user.Enable)
	assert.NotEmpty(t, user.UserID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cretpass")))
	require.Len(t, otps.issued, 1)
	assert.Equal(t, "creator@example.com|registration", otps.issued[0])
}

func TestRegisterDuplicateEmail(t *testing.T) {
	users := newFakeUsers()
	svc := NewService(users, &fakeOTP{}, fakeSigner{}, nil)

	_, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)

	req := registerReq()
	req.Username = "someone_else"
	_, err = svc.Register(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	users := newFakeUsers()
	svc := NewService(users, &fakeOTP{}, fakeSigner{}, nil)

	_, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)

	req := registerReq()
	req.Email = "other@example.com"
	_, err = svc.Register(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newFakeUsers(), &fakeOTP{}, fakeSigner{}, nil)

	req := registerReq()
	req.Password = "short"
	_, err := svc.Register(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	req = registerReq()
	req.Email = "not-an-email"
	_, err = svc.Register(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestVerifyEmail(t *testing.T) {
	users := newFakeUsers()
	otps := &fakeOTP{code: "123456"}
	svc := NewService(users, otps, fakeSigner{}, nil)

	user, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)

	// Login before verification is refused.
	_, err = svc.Login(context.Background(), user.Email, "s3cretpass")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	sess, err := svc.VerifyEmail(context.Background(), user.Email, "123456")
	require.NoError(t, err)
	assert.True(t, sess.User.Verified)
	assert.Equal(t, "token-for-"+user.UserID, sess.Token)

	// Second verification is a conflict, not a silent success.
	_, err = svc.VerifyEmail(context.Background(), user.Email, "123456")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestVerifyEmailWrongCode(t *testing.T) {
	users := newFakeUsers()
	svc := NewService(users, &fakeOTP{code: "123456"}, fakeSigner{}, nil)

	user, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)

	_, err = svc.VerifyEmail(context.Background(), user.Email, "000000")
	assert.ErrorIs(t, err, domain.ErrOTPInvalid)
}

func TestLogin(t *testing.T) {
	users := newFakeUsers()
	otps := &fakeOTP{code: "123456"}
	svc := NewService(users, otps, fakeSigner{}, nil)

	user, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)
	_, err = svc.VerifyEmail(context.Background(), user.Email, "123456")
	require.NoError(t, err)

	sess, err := svc.Login(context.Background(), "creator@example.com", "s3cretpass")
	require.NoError(t, err)
	assert.Equal(t, user.UserID, sess.User.UserID)

	_, err = svc.Login(context.Background(), "creator@example.com", "wrongpass")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Login(context.Background(), "ghost@example.com", "s3cretpass")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLoginWithCode(t *testing.T) {
	users := newFakeUsers()
	otps := &fakeOTP{code: "654321"}
	svc := NewService(users, otps, fakeSigner{}, nil)

	user, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)
	_, err = svc.VerifyEmail(context.Background(), user.Email, "654321")
	require.NoError(t, err)

	require.NoError(t, svc.RequestLoginCode(context.Background(), user.Email))
	assert.Contains(t, otps.issued, "creator@example.com|login")

	sess, err := svc.LoginWithCode(context.Background(), user.Email, "654321")
	require.NoError(t, err)
	assert.Equal(t, user.UserID, sess.User.UserID)

	_, err = svc.LoginWithCode(context.Background(), user.Email, "000000")
	assert.ErrorIs(t, err, domain.ErrOTPInvalid)
}

func TestRequestLoginCodeUnknownEmailIsSilent(t *testing.T) {
	svc := NewService(newFakeUsers(), &fakeOTP{}, fakeSigner{}, nil)

	err := svc.RequestLoginCode(context.Background(), "ghost@example.com")
	assert.NoError(t, err)
}

func TestRequestLoginCodeUnverifiedLooksLikeUnknown(t *testing.T) {
	users := newFakeUsers()
	otps := &fakeOTP{code: "123456"}
	svc := NewService(users, otps, fakeSigner{}, nil)

	_, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)

	// Same answer as an unregistered address, and no login code goes out.
	err = svc.RequestLoginCode(context.Background(), "creator@example.com")
	assert.NoError(t, err)
	assert.NotContains(t, otps.issued, "creator@example.com|login")
}

func TestPasswordReset(t *testing.T) {
	users := newFakeUsers()
	otps := &fakeOTP{code: "111222"}
	svc := NewService(users, otps, fakeSigner{}, nil)

	user, err := svc.Register(context.Background(), registerReq())
	require.NoError(t, err)
	_, err = svc.VerifyEmail(context.Background(), user.Email, "111222")
	require.NoError(t, err)

	require.NoError(t, svc.RequestPasswordReset(context.Background(), user.Email))
	assert.Contains(t, otps.issued, "creator@example.com|password-reset")

	require.NoError(t, svc.ResetPassword(context.Background(), user.Email, "111222", "newpassword"))

	_, err = svc.Login(context.Background(), user.Email, "s3cretpass")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Login(context.Background(), user.Email, "newpassword")
	assert.NoError(t, err)
}

func TestResetPasswordTooShort(t *testing.T) {
	svc := NewService(newFakeUsers(), &fakeOTP{code: "111222"}, fakeSigner{}, nil)

	err := svc.ResetPassword(context.Background(), "creator@example.com", "111222", "short")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}
