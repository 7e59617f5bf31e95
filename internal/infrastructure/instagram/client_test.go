package instagram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aurax-platform/identity-api/internal/config"
	"github.com/aurax-platform/identity-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.InstagramConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/callback",
		OAuthBaseURL: srv.URL,
		GraphBaseURL: srv.URL,
		HTTPTimeout:  2 * time.Second,
	})
}

func TestExchangeCode_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/oauth/access_token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "AQXcode", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"short-token","user_id":17841400}`))
	}))

	token, err := c.ExchangeCode(context.Background(), "AQXcode")
	require.NoError(t, err)
	assert.Equal(t, "short-token", token)
}

func TestExchangeCode_ProviderError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_type":"OAuthException","error_message":"Invalid authorization code"}`))
	}))

	_, err := c.ExchangeCode(context.Background(), "expired")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
	assert.Contains(t, err.Error(), "Invalid authorization code")
}

func TestExchangeCode_MissingToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := c.ExchangeCode(context.Background(), "AQXcode")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
}

func TestUpgradeToLongLived_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/access_token", r.URL.Path)
		assert.Equal(t, "ig_exchange_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "short-token", r.URL.Query().Get("access_token"))
		w.Write([]byte(`{"access_token":"long-token","token_type":"bearer","expires_in":5183944}`))
	}))

	res, err := c.UpgradeToLongLived(context.Background(), "short-token")
	require.NoError(t, err)
	assert.Equal(t, "long-token", res.AccessToken)
	assert.Equal(t, int64(5183944), res.ExpiresInSeconds)
	assert.Equal(t, domain.TokenTierLongLived, res.Tier)
}

func TestFetchProfile_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me", r.URL.Path)
		assert.Equal(t, "id,username,account_type,media_count,followers_count,profile_picture_url", r.URL.Query().Get("fields"))
		w.Write([]byte(`{"id":"17841400","username":"aurax_creator","account_type":"BUSINESS","media_count":42,` +
			`"followers_count":1200,"profile_picture_url":"https://cdn.example.com/avatar.jpg"}`))
	}))

	p, err := c.FetchProfile(context.Background(), "long-token")
	require.NoError(t, err)
	assert.Equal(t, "17841400", p.ID)
	assert.Equal(t, "aurax_creator", p.Username)
	assert.Equal(t, "BUSINESS", p.AccountType)
	assert.Equal(t, 42, p.MediaCount)
	assert.Equal(t, 1200, p.FollowersCount)
	assert.Equal(t, "https://cdn.example.com/avatar.jpg", p.ProfilePicture)
}

func TestFetchProfile_InvalidToken_SurfacesProviderMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token.","type":"OAuthException"}}`))
	}))

	_, err := c.FetchProfile(context.Background(), "bad-token")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
	assert.Contains(t, err.Error(), "Invalid OAuth access token.")
}

func TestRefresh_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/refresh_access_token", r.URL.Path)
		assert.Equal(t, "ig_refresh_token", r.URL.Query().Get("grant_type"))
		w.Write([]byte(`{"access_token":"refreshed-token","token_type":"bearer","expires_in":5184000}`))
	}))

	res, err := c.Refresh(context.Background(), "long-token")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", res.AccessToken)
	assert.Equal(t, int64(5184000), res.ExpiresInSeconds)
}

func TestRefresh_ExpiredToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"The access token has expired."}}`))
	}))

	_, err := c.Refresh(context.Background(), "stale-token")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
}

func TestAuthorizationURL(t *testing.T) {
	c := NewClient(config.InstagramConfig{
		ClientID:     "client-id",
		RedirectURI:  "https://app.example.com/callback",
		OAuthBaseURL: "https://api.instagram.com",
		GraphBaseURL: "https://graph.instagram.com",
		HTTPTimeout:  time.Second,
	})
	u := c.AuthorizationURL("state123")
	assert.Contains(t, u, "https://api.instagram.com/oauth/authorize?")
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "response_type=code")
	assert.Contains(t, u, "state=state123")
	assert.Contains(t, u, "scope=user_profile%2Cuser_media")
}
