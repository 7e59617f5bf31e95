// Package otp implements the one-time passcode lifecycle: issuance with
// cooldown and write-time garbage collection, exactly-once verification, and
// the periodic cleanup sweep.
package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aurax-platform/identity-api/internal/config"
	"github.com/aurax-platform/identity-api/internal/domain"
	"github.com/aurax-platform/identity-api/internal/infrastructure/smtp"
	"github.com/aurax-platform/identity-api/internal/metrics"
	"github.com/aurax-platform/identity-api/internal/pkg/otpcode"
)

// Repository is the persistence the OTP lifecycle needs. The used-flag
// transition, attempt increments and the issuance cooldown must be atomic
// conditional updates, not read-then-write. Put fails with ErrRateLimited when
// the existing record was created after cooldownCutoff; Delete only removes a
// record still holding the given digest, so a purge cannot race a reissue into
// deleting the fresh code.
type Repository interface {
	Put(ctx context.Context, t *domain.OTPToken, cooldownCutoff time.Time) error
	Get(ctx context.Context, recipient string, purpose domain.OTPPurpose) (*domain.OTPToken, error)
	Delete(ctx context.Context, recipient string, purpose domain.OTPPurpose, digest string) error
	MarkUsed(ctx context.Context, recipient string, purpose domain.OTPPurpose, digest string, now time.Time) error
	IncrementAttempts(ctx context.Context, recipient string, purpose domain.OTPPurpose) error
	CleanupExpired(ctx context.Context, now time.Time) (int, error)
}

// IssueResult reports a successful issuance. The plaintext code is already on
// its way to the recipient and is not part of the result.
type IssueResult struct {
	ExpiresAt time.Time
}

type Service interface {
	Issue(ctx context.Context, recipient string, purpose domain.OTPPurpose) (*IssueResult, error)
	Verify(ctx context.Context, recipient, claimedCode string, purpose domain.OTPPurpose) error
	CleanupExpired(ctx context.Context) (int, error)
}

type service struct {
	repo    Repository
	mailer  smtp.Mailer
	policy  config.OTPConfig
	metrics metrics.Collector
}

func NewService(repo Repository, mailer smtp.Mailer, policy config.OTPConfig, collector metrics.Collector) Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &service{repo: repo, mailer: mailer, policy: policy, metrics: collector}
}

// Issue generates a fresh 6-digit code for (recipient, purpose), persists its
// digest and hands the plaintext to the mailer. A record created inside the
// cooldown window blocks reissuance; stale records are purged on the way in.
// The cooldown rides on the conditional write, so concurrent issuances for the
// same pair cannot both send a code.
func (s *service) Issue(ctx context.Context, recipient string, purpose domain.OTPPurpose) (*IssueResult, error) {
	recipient = domain.NormalizeRecipient(recipient)
	if recipient == "" {
		return nil, fmt.Errorf("recipient required: %w", domain.ErrBadRequest)
	}
	if !domain.ValidPurpose(purpose) {
		return nil, fmt.Errorf("unknown otp purpose %q: %w", purpose, domain.ErrBadRequest)
	}

	now := time.Now().UTC()
	cooldown := s.policy.CooldownFor(string(purpose))
	existing, err := s.repo.Get(ctx, recipient, purpose)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		// Fast path; the conditional Put below is the authoritative gate.
		if now.Sub(existing.CreatedAt) < cooldown {
			return nil, fmt.Errorf("please wait before requesting another code: %w", domain.ErrRateLimited)
		}
		// Write-time GC: a stale record can never verify again; reissuance
		// supersedes a still-valid one either way.
		if existing.Stale(now) {
			if err := s.repo.Delete(ctx, recipient, purpose, existing.Digest); err != nil {
				return nil, err
			}
		}
	}

	code, err := otpcode.Generate()
	if err != nil {
		return nil, err
	}

	ttl := s.policy.TTLFor(string(purpose))
	token := &domain.OTPToken{
		Recipient: recipient,
		Purpose:   purpose,
		Digest:    otpcode.Hash(code),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := s.repo.Put(ctx, token, now.Add(-cooldown)); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			return nil, fmt.Errorf("please wait before requesting another code: %w", domain.ErrRateLimited)
		}
		return nil, err
	}

	subject, body := messageFor(purpose, code, ttl)
	if err := s.mailer.SendEmail(recipient, subject, body); err != nil {
		return nil, fmt.Errorf("send verification code: %w", err)
	}

	s.metrics.RecordOTPIssued(string(purpose))
	slog.Info("otp issued", "recipient", recipient, "purpose", purpose, "expires_at", token.ExpiresAt)
	return &IssueResult{ExpiresAt: time.Unix(token.ExpiresAt, 0).UTC()}, nil
}

// Verify redeems a claimed code. Redemption is exactly-once: the used flag is
// flipped with a compare-and-set, so of two concurrent calls with the correct
// code one gets nil and the other ErrOTPInvalid. Every failure is terminal
// and requires a fresh Issue.
func (s *service) Verify(ctx context.Context, recipient, claimedCode string, purpose domain.OTPPurpose) error {
	recipient = domain.NormalizeRecipient(recipient)
	if recipient == "" || claimedCode == "" {
		return fmt.Errorf("recipient and code required: %w", domain.ErrBadRequest)
	}
	if !domain.ValidPurpose(purpose) {
		return fmt.Errorf("unknown otp purpose %q: %w", purpose, domain.ErrBadRequest)
	}

	now := time.Now().UTC()
	record, err := s.repo.Get(ctx, recipient, purpose)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Indistinguishable from a wrong code by design.
			s.metrics.RecordOTPVerification("invalid")
			return domain.ErrOTPInvalid
		}
		return err
	}

	if record.Used {
		s.metrics.RecordOTPVerification("invalid")
		return domain.ErrOTPInvalid
	}
	if record.Expired(now) {
		if err := s.repo.Delete(ctx, recipient, purpose, record.Digest); err != nil {
			return err
		}
		s.metrics.RecordOTPVerification("expired")
		return domain.ErrOTPExpired
	}
	if record.Exhausted() {
		if err := s.repo.Delete(ctx, recipient, purpose, record.Digest); err != nil {
			return err
		}
		s.metrics.RecordOTPVerification("max_attempts")
		return domain.ErrOTPMaxAttempts
	}

	if record.Digest != otpcode.Hash(claimedCode) {
		// Charge the miss against the live record for this pair so guessing
		// exhausts the budget even though the digest never matched.
		if record.Attempts+1 >= domain.MaxOTPAttempts {
			if err := s.repo.Delete(ctx, recipient, purpose, record.Digest); err != nil {
				return err
			}
			s.metrics.RecordOTPVerification("max_attempts")
			return domain.ErrOTPMaxAttempts
		}
		if err := s.repo.IncrementAttempts(ctx, recipient, purpose); err != nil {
			return err
		}
		s.metrics.RecordOTPVerification("invalid")
		return domain.ErrOTPInvalid
	}

	if err := s.repo.MarkUsed(ctx, recipient, purpose, record.Digest, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race or the record was superseded between read and CAS.
			s.metrics.RecordOTPVerification("invalid")
			return domain.ErrOTPInvalid
		}
		return err
	}

	s.metrics.RecordOTPVerification("ok")
	slog.Info("otp verified", "recipient", recipient, "purpose", purpose)
	return nil
}

// CleanupExpired removes records that can never verify again. The host runs
// it on a timer; it is safe alongside concurrent issues and verifies because
// deletions race only against conditional updates.
func (s *service) CleanupExpired(ctx context.Context) (int, error) {
	deleted, err := s.repo.CleanupExpired(ctx, time.Now().UTC())
	if err != nil {
		return deleted, err
	}
	if deleted > 0 {
		s.metrics.RecordCleanupDeleted(deleted)
		slog.Info("otp cleanup sweep", "deleted", deleted)
	}
	return deleted, nil
}

// messageFor builds the plain-text notification for a purpose. Rich HTML
// templates live with the email service, not here.
func messageFor(purpose domain.OTPPurpose, code string, ttl time.Duration) (subject, body string) {
	minutes := int(ttl.Minutes())
	switch purpose {
	case domain.PurposeLogin:
		return "Your Aurax login code",
			fmt.Sprintf("Your Aurax login code is: %s. This code expires in %d minutes.", code, minutes)
	case domain.PurposePasswordReset:
		return "Reset your Aurax password",
			fmt.Sprintf("Your Aurax password reset code is: %s. This code expires in %d minutes.", code, minutes)
	case domain.PurposeEmailVerification:
		return "Verify your email address",
			fmt.Sprintf("Your Aurax email verification code is: %s. This code expires in %d minutes.", code, minutes)
	default:
		return "Complete your Aurax registration",
			fmt.Sprintf("Your Aurax registration verification code is: %s. This code expires in %d minutes.", code, minutes)
	}
}
