// Package social links Instagram accounts to internal users: OAuth handshake,
// persisted linkage, token refresh and disconnect.
package social

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aurax-platform/identity-api/internal/domain"
	"github.com/aurax-platform/identity-api/internal/metrics"
	"github.com/aurax-platform/identity-api/internal/pkg/state"
)

// Exchanger is the provider-facing surface the linker drives. The production
// implementation is infrastructure/instagram.Client.
type Exchanger interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	UpgradeToLongLived(ctx context.Context, shortToken string) (*domain.ExchangeResult, error)
	FetchProfile(ctx context.Context, accessToken string) (*domain.InstagramProfile, error)
	Refresh(ctx context.Context, accessToken string) (*domain.ExchangeResult, error)
	DownloadImage(ctx context.Context, imageURL string) ([]byte, string, error)
}

// Users is the slice of user persistence the linker needs. Linkage writes are
// whole-struct so a reader never observes a half-connected record.
type Users interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	UpdateInstagramLinkage(ctx context.Context, userID string, linkage domain.InstagramLinkage) error
	UpdateInstagramToken(ctx context.Context, userID, accessToken string, expiresAt time.Time) error
}

// TokenResolver maps an optional bearer token to a user ID.
type TokenResolver interface {
	ResolveUserID(tokenStr string) (string, error)
}

// AvatarStore mirrors profile pictures into our own storage. Instagram CDN
// URLs expire, so the stored snapshot keeps a copy we control.
type AvatarStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// CallbackResult is what a completed OAuth handshake yields. SavedToUser
// reports whether the linkage was persisted; the handshake itself can succeed
// without a resolvable user.
type CallbackResult struct {
	Profile     *domain.InstagramProfile `json:"profile"`
	Tier        domain.TokenTier         `json:"token_tier"`
	ExpiresAt   time.Time                `json:"token_expires_at"`
	SavedToUser bool                     `json:"saved_to_user"`
}

// ValidationResult reports whether the stored token still works against the
// provider.
type ValidationResult struct {
	Valid   bool                     `json:"valid"`
	Profile *domain.InstagramProfile `json:"profile,omitempty"`
	Detail  string                   `json:"detail,omitempty"`
}

type Service interface {
	AuthorizationURL() (url, stateToken string, err error)
	CompleteAuthorization(ctx context.Context, code, bearerToken string) (*CallbackResult, error)
	RefreshToken(ctx context.Context, userID string) (*domain.ConnectionStatus, error)
	Disconnect(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (*domain.ConnectionStatus, error)
	ValidateToken(ctx context.Context, userID string) (*ValidationResult, error)
}

type service struct {
	provider Exchanger
	users    Users
	resolver TokenResolver
	avatars  AvatarStore
	metrics  metrics.Collector
}

// NewService wires the linker. resolver and avatars may be nil; without a
// resolver every callback completes with SavedToUser=false, and without an
// avatar store profile pictures are not mirrored.
func NewService(provider Exchanger, users Users, resolver TokenResolver, avatars AvatarStore, collector metrics.Collector) Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &service{provider: provider, users: users, resolver: resolver, avatars: avatars, metrics: collector}
}

func (s *service) AuthorizationURL() (string, string, error) {
	st, err := state.New()
	if err != nil {
		return "", "", err
	}
	return s.provider.AuthorizationURL(st), st, nil
}

// CompleteAuthorization runs the full handshake for an authorization code:
// code to short-lived token (fatal on failure), upgrade to long-lived
// (degrades to the short token on failure), profile fetch (fatal), then
// linkage persistence when the bearer resolves to a known user.
//
// Once the code exchange has succeeded the code is burned at the provider, so
// the rest of the handshake keeps running even if the caller goes away.
func (s *service) CompleteAuthorization(ctx context.Context, code, bearerToken string) (*CallbackResult, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code required: %w", domain.ErrBadRequest)
	}

	shortToken, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordOAuthExchange("exchange_failed")
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)

	token := shortToken
	expiresIn := int64(3600)
	tier := domain.TokenTierShortLived
	if upgraded, err := s.provider.UpgradeToLongLived(ctx, shortToken); err != nil {
		slog.Warn("long-lived token upgrade failed, keeping short-lived token", "error", err)
	} else {
		token = upgraded.AccessToken
		expiresIn = upgraded.ExpiresInSeconds
		tier = domain.TokenTierLongLived
	}

	profile, err := s.provider.FetchProfile(ctx, token)
	if err != nil {
		s.metrics.RecordOAuthExchange("profile_failed")
		return nil, err
	}

	s.metrics.RecordOAuthExchange("ok")
	expiresAt := time.Now().UTC().Add(time.Duration(expiresIn) * time.Second)
	result := &CallbackResult{Profile: profile, Tier: tier, ExpiresAt: expiresAt}

	userID := s.resolveUser(bearerToken)
	if userID == "" {
		slog.Info("oauth handshake completed without a linked user", "ig_user", profile.Username)
		return result, nil
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		slog.Warn("oauth bearer resolved to unknown user, linkage not saved", "user_id", userID, "error", err)
		return result, nil
	}

	now := time.Now().UTC()
	linkage := domain.InstagramLinkage{
		Connected:      true,
		AccessToken:    token,
		TokenExpiresAt: &expiresAt,
		Profile:        profile,
		ConnectedAt:    &now,
		AvatarKey:      s.mirrorAvatar(ctx, user.UserID, profile),
	}
	if err := s.users.UpdateInstagramLinkage(ctx, user.UserID, linkage); err != nil {
		slog.Error("persist instagram linkage", "user_id", user.UserID, "error", err)
		return result, nil
	}

	result.SavedToUser = true
	slog.Info("instagram account linked", "user_id", user.UserID, "ig_user", profile.Username, "tier", tier)
	return result, nil
}

// RefreshToken extends the stored long-lived token. It refuses when no
// account is connected and backs off if a concurrent disconnect wins the
// write.
func (s *service) RefreshToken(ctx context.Context, userID string) (*domain.ConnectionStatus, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Instagram.Connected {
		s.metrics.RecordTokenRefresh("not_connected")
		return nil, fmt.Errorf("no instagram account connected: %w", domain.ErrConflict)
	}

	refreshed, err := s.provider.Refresh(ctx, user.Instagram.AccessToken)
	if err != nil {
		s.metrics.RecordTokenRefresh("provider_failed")
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(time.Duration(refreshed.ExpiresInSeconds) * time.Second)
	if err := s.users.UpdateInstagramToken(ctx, userID, refreshed.AccessToken, expiresAt); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.metrics.RecordTokenRefresh("disconnected_race")
			return nil, fmt.Errorf("account was disconnected during refresh: %w", domain.ErrConflict)
		}
		return nil, err
	}

	s.metrics.RecordTokenRefresh("ok")
	slog.Info("instagram token refreshed", "user_id", userID, "expires_at", expiresAt)

	status := projectStatus(&user.Instagram)
	status.TokenExpiresAt = &expiresAt
	return status, nil
}

// Disconnect clears the linkage in one write and removes the mirrored avatar.
// Disconnecting an already-disconnected account is a no-op.
func (s *service) Disconnect(ctx context.Context, userID string) error {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Instagram.Connected {
		return nil
	}

	if err := s.users.UpdateInstagramLinkage(ctx, userID, domain.InstagramLinkage{}); err != nil {
		return err
	}
	if key := user.Instagram.AvatarKey; key != "" && s.avatars != nil {
		if err := s.avatars.Delete(ctx, key); err != nil {
			slog.Warn("delete mirrored avatar", "key", key, "error", err)
		}
	}

	slog.Info("instagram account disconnected", "user_id", userID)
	return nil
}

const avatarURLTTL = 15 * time.Minute

func (s *service) Status(ctx context.Context, userID string) (*domain.ConnectionStatus, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := projectStatus(&user.Instagram)
	if key := user.Instagram.AvatarKey; key != "" && s.avatars != nil {
		url, err := s.avatars.PresignedURL(ctx, key, avatarURLTTL)
		if err != nil {
			slog.Warn("presign avatar url", "key", key, "error", err)
		} else {
			status.AvatarURL = url
		}
	}
	return status, nil
}

// ValidateToken probes the provider with the stored token. A provider
// rejection means the token is dead, not that the call failed.
func (s *service) ValidateToken(ctx context.Context, userID string) (*ValidationResult, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Instagram.Connected {
		return nil, fmt.Errorf("no instagram account connected: %w", domain.ErrConflict)
	}

	profile, err := s.provider.FetchProfile(ctx, user.Instagram.AccessToken)
	if err != nil {
		if errors.Is(err, domain.ErrUpstream) {
			return &ValidationResult{Valid: false, Detail: err.Error()}, nil
		}
		return nil, err
	}
	return &ValidationResult{Valid: true, Profile: profile}, nil
}

func (s *service) resolveUser(bearerToken string) string {
	if bearerToken == "" || s.resolver == nil {
		return ""
	}
	userID, err := s.resolver.ResolveUserID(bearerToken)
	if err != nil {
		slog.Warn("oauth bearer token did not resolve", "error", err)
		return ""
	}
	return userID
}

// mirrorAvatar copies the profile picture into our own bucket and returns the
// object key, or "" when there is nothing to mirror or the copy fails. The
// linkage never depends on the mirror succeeding.
func (s *service) mirrorAvatar(ctx context.Context, userID string, profile *domain.InstagramProfile) string {
	if s.avatars == nil || profile == nil || profile.ProfilePicture == "" {
		return ""
	}
	data, contentType, err := s.provider.DownloadImage(ctx, profile.ProfilePicture)
	if err != nil {
		slog.Warn("download instagram avatar", "user_id", userID, "error", err)
		return ""
	}
	key := fmt.Sprintf("instagram-avatars/%s", userID)
	if err := s.avatars.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		slog.Warn("mirror instagram avatar", "user_id", userID, "key", key, "error", err)
		return ""
	}
	return key
}

func projectStatus(l *domain.InstagramLinkage) *domain.ConnectionStatus {
	status := &domain.ConnectionStatus{Connected: l.Connected}
	if l.Profile != nil {
		status.Username = l.Profile.Username
		status.AccountType = l.Profile.AccountType
		status.FollowersCount = l.Profile.FollowersCount
	}
	status.ConnectedAt = l.ConnectedAt
	status.TokenExpiresAt = l.TokenExpiresAt
	return status
}

// TroubleshootingHints maps a handshake failure to operator-facing hints the
// handler attaches to the error response.
func TroubleshootingHints(err error) []string {
	if !errors.Is(err, domain.ErrUpstream) {
		return nil
	}
	return []string{
		"Authorization codes are single-use; a page reload resends a burned code",
		"The redirect_uri must byte-match the one registered with the app",
		"Codes expire quickly; restart the authorization flow and retry promptly",
	}
}
