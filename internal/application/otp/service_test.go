package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurax-platform/identity-api/internal/config"
	"github.com/aurax-platform/identity-api/internal/domain"
	"github.com/aurax-platform/identity-api/internal/pkg/otpcode"
)

type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*domain.OTPToken
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*domain.OTPToken)}
}

func key(recipient string, purpose domain.OTPPurpose) string {
	return recipient + "#" + string(purpose)
}

func (f *fakeRepo) Put(_ context.Context, t *domain.OTPToken, cooldownCutoff time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(t.Recipient, t.Purpose)
	if rec, ok := f.records[k]; ok && rec.CreatedAt.After(cooldownCutoff) {
		return domain.ErrRateLimited
	}
	cp := *t
	f.records[k] = &cp
	return nil
}

func (f *fakeRepo) Get(_ context.Context, recipient string, purpose domain.OTPPurpose) (*domain.OTPToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key(recipient, purpose)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) Delete(_ context.Context, recipient string, purpose domain.OTPPurpose, digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(recipient, purpose)
	rec, ok := f.records[k]
	if !ok {
		return nil
	}
	if digest != "" && rec.Digest != digest {
		return nil
	}
	delete(f.records, k)
	return nil
}

func (f *fakeRepo) MarkUsed(_ context.Context, recipient string, purpose domain.OTPPurpose, digest string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key(recipient, purpose)]
	if !ok || rec.Used || rec.Digest != digest || rec.Attempts >= domain.MaxOTPAttempts || rec.ExpiresAt <= now.Unix() {
		return domain.ErrConflict
	}
	rec.Used = true
	usedAt := now
	rec.UsedAt = &usedAt
	return nil
}

func (f *fakeRepo) IncrementAttempts(_ context.Context, recipient string, purpose domain.OTPPurpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key(recipient, purpose)]
	if !ok || rec.Used {
		return nil
	}
	rec.Attempts++
	return nil
}

func (f *fakeRepo) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := 0
	for k, rec := range f.records {
		stale := rec.ExpiresAt < now.Unix() || rec.Attempts >= domain.MaxOTPAttempts ||
			(rec.Used && rec.UsedAt != nil && rec.UsedAt.Before(now.Add(-24*time.Hour)))
		if stale {
			delete(f.records, k)
			deleted++
		}
	}
	return deleted, nil
}

// gatedRepo holds every Get until all expected callers have arrived, forcing
// concurrent issuances to run their cooldown reads before either writes.
type gatedRepo struct {
	*fakeRepo
	gate sync.WaitGroup
}

func (g *gatedRepo) Get(ctx context.Context, recipient string, purpose domain.OTPPurpose) (*domain.OTPToken, error) {
	g.gate.Done()
	g.gate.Wait()
	return g.fakeRepo.Get(ctx, recipient, purpose)
}

// supersedingRepo swaps in a fresh record right after the first Get, modeling
// a reissue landing between a verify's read and its delete.
type supersedingRepo struct {
	*fakeRepo
	once  sync.Once
	fresh *domain.OTPToken
}

func (r *supersedingRepo) Get(ctx context.Context, recipient string, purpose domain.OTPPurpose) (*domain.OTPToken, error) {
	rec, err := r.fakeRepo.Get(ctx, recipient, purpose)
	r.once.Do(func() {
		_ = r.fakeRepo.Put(ctx, r.fresh, time.Now())
	})
	return rec, err
}

type fakeMailer struct {
	mu    sync.Mutex
	sent  []string
	codes []string
	fail  error
}

func (m *fakeMailer) SendEmail(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, to)
	m.codes = append(m.codes, extractCode(body))
	return nil
}

// extractCode pulls the first 6-digit run out of a notification body.
func extractCode(body string) string {
	for i := 0; i+6 <= len(body); i++ {
		ok := true
		for j := i; j < i+6; j++ {
			if body[j] < '0' || body[j] > '9' {
				ok = false
				break
			}
		}
		if ok {
			return body[i : i+6]
		}
	}
	return ""
}

func (m *fakeMailer) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		return ""
	}
	return m.codes[len(m.codes)-1]
}

func testPolicy() config.OTPConfig {
	return config.OTPConfig{
		RegistrationTTL:       10 * time.Minute,
		LoginTTL:              5 * time.Minute,
		PasswordResetTTL:      15 * time.Minute,
		EmailVerificationTTL:  10 * time.Minute,
		DefaultCooldown:       time.Minute,
		PasswordResetCooldown: 2 * time.Minute,
	}
}

func newTestService(repo Repository, mailer *fakeMailer) Service {
	return NewService(repo, mailer, testPolicy(), nil)
}

func TestIssueAndVerify(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	res, err := svc.Issue(context.Background(), "Creator@Example.com", domain.PurposeLogin)
	require.NoError(t, err)
	assert.True(t, res.ExpiresAt.After(time.Now()))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "creator@example.com", mailer.sent[0])

	code := mailer.lastCode()
	require.Len(t, code, 6)

	// Only the digest is persisted.
	rec, err := repo.Get(context.Background(), "creator@example.com", domain.PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, otpcode.Hash(code), rec.Digest)
	assert.NotContains(t, rec.Digest, code)

	err = svc.Verify(context.Background(), "creator@example.com", code, domain.PurposeLogin)
	assert.NoError(t, err)
}

func TestVerifyIsExactlyOnce(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	_, err := svc.Issue(context.Background(), "creator@example.com", domain.PurposeLogin)
	require.NoError(t, err)
	code := mailer.lastCode()

	require.NoError(t, svc.Verify(context.Background(), "creator@example.com", code, domain.PurposeLogin))

	err = svc.Verify(context.Background(), "creator@example.com", code, domain.PurposeLogin)
	assert.ErrorIs(t, err, domain.ErrOTPInvalid)
}

func TestVerifyWrongCodeExhaustsBudget(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	_, err := svc.Issue(context.Background(), "creator@example.com", domain.PurposeRegistration)
	require.NoError(t, err)

	ctx := context.Background()
	err = svc.Verify(ctx, "creator@example.com", "000000", domain.PurposeRegistration)
	assert.ErrorIs(t, err, domain.ErrOTPInvalid)

	err = svc.Verify(ctx, "creator@example.com", "000000", domain.PurposeRegistration)
	assert.ErrorIs(t, err, domain.ErrOTPInvalid)

	err = svc.Verify(ctx, "creator@example.com", "000000", domain.PurposeRegistration)
	assert.ErrorIs(t, err, domain.ErrOTPMaxAttempts)

	// The record is gone; even the right code can no longer verify.
	err = svc.Verify(ctx, "creator@example.com", mailer.lastCode(), domain.PurposeRegistration)
	assert.ErrorIs(t, err, domain.ErrOTPInvalid)
}

func TestVerifyExpired(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	_, err := svc.Issue(context.Background(), "creator@example.com", domain.PurposeLogin)
	require.NoError(t, err)
	code := mailer.lastCode()

	repo.mu.Lock()
	repo.records[key("creator@example.com", domain.PurposeLogin)].ExpiresAt = time.Now().Add(-time.Minute).Unix()
	repo.mu.Unlock()

	err = svc.Verify(context.Background(), "creator@example.com", code, domain.PurposeLogin)
	assert.ErrorIs(t, err, domain.ErrOTPExpired)

	// Expiry purged the record.
	_, err = repo.Get(context.Background(), "creator@example.com", domain.PurposeLogin)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIssueCooldown(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	_, err := svc.Issue(context.Background(), "creator@example.com", domain.PurposeLogin)
	require.NoError(t, err)

	_, err = svc.Issue(context.Background(), "creator@example.com", domain.PurposeLogin)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	// A different purpose for the same recipient is an independent record.
	_, err = svc.Issue(context.Background(), "creator@example.com", domain.PurposePasswordReset)
	assert.NoError(t, err)
}

func TestIssueAfterCooldownSupersedes(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	_, err := svc.Issue(context.Background(), "creator@example.com", domain.PurposeLogin)
	require.NoError(t, err)
	first := mailer.lastCode()

	// Backdate the record past the cooldown.
	repo.mu.Lock()
	repo.records[key("creator@example.com", domain.PurposeLogin)].CreatedAt = time.Now().Add(-2 * time.Minute)
	repo.mu.Unlock()

	_, err = svc.Issue(context.Background(), "creator@example.com", domain.PurposeLogin)
	require.NoError(t, err)
	second := mailer.lastCode()

	// The superseded code no longer verifies.
	if first != second {
		err = svc.Verify(context.Background(), "creator@example.com", first, domain.PurposeLogin)
		assert.ErrorIs(t, err, domain.ErrOTPInvalid)
	}
	assert.NoError(t, svc.Verify(context.Background(), "creator@example.com", second, domain.PurposeLogin))
}

func TestIssueConcurrentOnlyOneWins(t *testing.T) {
	repo := &gatedRepo{fakeRepo: newFakeRepo()}
	repo.gate.Add(2)
	mailer := &fakeMailer{}
	svc := newTestService(repo, mailer)

	// Both calls pass the cooldown read before either writes; the conditional
	// write decides the winner.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Issue(context.Background(), "creator@example.com", domain.PurposeLogin)
		}(i)
	}
	wg.Wait()

	var wins, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrRateLimited):
			limited++
		default:
			t.Fatalf("unexpected issue error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, limited)
	assert.Len(t, mailer.sent, 1)
}

func TestVerifyExpiredLeavesReissuedRecord(t *testing.T) {
	base := newFakeRepo()
	now := time.Now().UTC()
	require.NoError(t, base.Put(context.Background(), &domain.OTPToken{
		Recipient: "creator@example.com", Purpose: domain.PurposeLogin,
		Digest:    otpcode.Hash("111111"),
		CreatedAt: now.Add(-10 * time.Minute),
		ExpiresAt: now.Add(-time.Minute).Unix(),
	}, now))
	repo := &supersedingRepo{fakeRepo: base, fresh: &domain.OTPToken{
		Recipient: "creator@example.com", Purpose: domain.PurposeLogin,
		Digest:    otpcode.Hash("222222"),
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute).Unix(),
	}}
	svc := newTestService(repo, &fakeMailer{})

	err := svc.Verify(context.Background(), "creator@example.com", "111111", domain.PurposeLogin)
	assert.ErrorIs(t, err, domain.ErrOTPExpired)

	// The digest-keyed delete skipped the reissued record; its code still works.
	assert.NoError(t, svc.Verify(context.Background(), "creator@example.com", "222222", domain.PurposeLogin))
}

func TestIssueMailerFailure(t *testing.T) {
	repo := newFakeRepo()
	mailer := &fakeMailer{fail: assert.AnError}
	svc := newTestService(repo, mailer)

	_, err := svc.Issue(context.Background(), "creator@example.com", domain.PurposeLogin)
	assert.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestIssueRejectsBadInput(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeMailer{})

	_, err := svc.Issue(context.Background(), "   ", domain.PurposeLogin)
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = svc.Issue(context.Background(), "creator@example.com", "mfa")
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	err = svc.Verify(context.Background(), "creator@example.com", "", domain.PurposeLogin)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestVerifyUnknownRecipient(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeMailer{})

	err := svc.Verify(context.Background(), "ghost@example.com", "123456", domain.PurposeLogin)
	assert.ErrorIs(t, err, domain.ErrOTPInvalid)
}

func TestCleanupExpired(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeMailer{})
	now := time.Now().UTC()

	old := now.Add(-48 * time.Hour)
	require.NoError(t, repo.Put(context.Background(), &domain.OTPToken{
		Recipient: "a@example.com", Purpose: domain.PurposeLogin,
		CreatedAt: now, ExpiresAt: now.Add(-time.Minute).Unix(),
	}, now))
	require.NoError(t, repo.Put(context.Background(), &domain.OTPToken{
		Recipient: "b@example.com", Purpose: domain.PurposeLogin,
		Attempts: domain.MaxOTPAttempts,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour).Unix(),
	}, now))
	require.NoError(t, repo.Put(context.Background(), &domain.OTPToken{
		Recipient: "c@example.com", Purpose: domain.PurposeLogin,
		Used: true, UsedAt: &old,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour).Unix(),
	}, now))
	require.NoError(t, repo.Put(context.Background(), &domain.OTPToken{
		Recipient: "d@example.com", Purpose: domain.PurposeLogin,
		CreatedAt: now, ExpiresAt: now.Add(time.Hour).Unix(),
	}, now))

	deleted, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	_, err = repo.Get(context.Background(), "d@example.com", domain.PurposeLogin)
	assert.NoError(t, err)
}
