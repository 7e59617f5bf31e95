// Package instagram is the HTTP client for the Instagram Basic Display /
// Graph API endpoints used during account linking.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aurax-platform/identity-api/internal/config"
	"github.com/aurax-platform/identity-api/internal/domain"
)

// DefaultLongLivedExpiry is what the Graph API hands out for a fresh
// long-lived token when it omits expires_in (~60 days).
const DefaultLongLivedExpiry = 5184000

// ShortLivedExpiry is the assumed lifetime of a short-lived token (1 hour).
const ShortLivedExpiry = 3600

// Client calls the provider endpoints. Base URLs come from config so tests
// can point them at a local fake. None of the calls retry: authorization
// codes are single-use and a rejected token stays rejected.
type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	oauthBase    string
	graphBase    string
	httpClient   *http.Client
}

func NewClient(cfg config.InstagramConfig) *Client {
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		oauthBase:    strings.TrimSuffix(cfg.OAuthBaseURL, "/"),
		graphBase:    strings.TrimSuffix(cfg.GraphBaseURL, "/"),
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// AuthorizationURL builds the consent-screen URL the frontend redirects to.
func (c *Client) AuthorizationURL(state string) string {
	params := url.Values{
		"client_id":     {c.clientID},
		"redirect_uri":  {c.redirectURI},
		"scope":         {"user_profile,user_media"},
		"response_type": {"code"},
		"state":         {state},
	}
	return c.oauthBase + "/oauth/authorize?" + params.Encode()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      any    `json:"user_id"`
	ExpiresIn   int64  `json:"expires_in"`
	// error shapes vary per endpoint
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Error        *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ExchangeCode trades the one-time authorization code for a short-lived
// access token. Any failure is terminal: the code is consumed either way.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.redirectURI},
		"code":          {code},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.oauthBase+"/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return "", fmt.Errorf("code exchange: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("code exchange: %s: %w", providerMessage(&tr, "missing access_token"), domain.ErrUpstream)
	}
	return tr.AccessToken, nil
}

// UpgradeToLongLived exchanges a short-lived token for a long-lived one.
// Callers treat failure as a degradation, not a flow failure.
func (c *Client) UpgradeToLongLived(ctx context.Context, shortToken string) (*domain.ExchangeResult, error) {
	params := url.Values{
		"grant_type":    {"ig_exchange_token"},
		"client_secret": {c.clientSecret},
		"access_token":  {shortToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.graphBase+"/access_token?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create upgrade request: %w", err)
	}

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return nil, fmt.Errorf("long-lived upgrade: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("long-lived upgrade: %s: %w", providerMessage(&tr, "missing access_token"), domain.ErrUpstream)
	}
	expiresIn := tr.ExpiresIn
	if expiresIn == 0 {
		expiresIn = DefaultLongLivedExpiry
	}
	return &domain.ExchangeResult{
		AccessToken:      tr.AccessToken,
		ExpiresInSeconds: expiresIn,
		Tier:             domain.TokenTierLongLived,
	}, nil
}

// FetchProfile retrieves the external account's public profile with a bearer
// access token. Used both to confirm a handshake and to populate the linked
// snapshot. Never retried: a bad token stays bad and retries waste quota.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*domain.InstagramProfile, error) {
	params := url.Values{
		"fields":       {"id,username,account_type,media_count,followers_count,profile_picture_url"},
		"access_token": {accessToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.graphBase+"/me?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create profile request: %w", err)
	}

	var body struct {
		domain.InstagramProfile
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := c.do(req, &body); err != nil {
		if body.Error != nil && body.Error.Message != "" {
			return nil, fmt.Errorf("profile fetch: %s: %w", body.Error.Message, domain.ErrUpstream)
		}
		return nil, fmt.Errorf("profile fetch: %w", err)
	}
	if body.ID == "" {
		msg := "missing profile id"
		if body.Error != nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
		return nil, fmt.Errorf("profile fetch: %s: %w", msg, domain.ErrUpstream)
	}
	p := body.InstagramProfile
	return &p, nil
}

// Refresh extends a long-lived token's validity. Stateless and user-agnostic;
// the caller persists the result. Failure means the token is beyond saving
// and the user has to reconnect.
func (c *Client) Refresh(ctx context.Context, accessToken string) (*domain.ExchangeResult, error) {
	params := url.Values{
		"grant_type":   {"ig_refresh_token"},
		"access_token": {accessToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.graphBase+"/refresh_access_token?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token refresh: %s: %w", providerMessage(&tr, "missing access_token"), domain.ErrUpstream)
	}
	expiresIn := tr.ExpiresIn
	if expiresIn == 0 {
		expiresIn = DefaultLongLivedExpiry
	}
	return &domain.ExchangeResult{
		AccessToken:      tr.AccessToken,
		ExpiresInSeconds: expiresIn,
		Tier:             domain.TokenTierLongLived,
	}, nil
}

// DownloadImage fetches an image (profile picture) and returns its bytes and
// content type. Used by the avatar mirror.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create image request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("image download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image download status %d: %w", resp.StatusCode, domain.ErrUpstream)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/jpeg"
	}
	return data, ct, nil
}

// do executes the request and decodes the JSON body into out. Non-2xx
// responses are decoded too: the provider puts its error details in the body,
// and those details are what we surface (logged raw, echoed only as message).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrUpstream)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed provider response (status %d): %w", resp.StatusCode, domain.ErrUpstream)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if tr, ok := out.(*tokenResponse); ok {
			return fmt.Errorf("status %d: %s: %w", resp.StatusCode, providerMessage(tr, "request rejected"), domain.ErrUpstream)
		}
		return fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrUpstream)
	}
	return nil
}

// providerMessage picks the human-readable error text out of whichever shape
// the endpoint used.
func providerMessage(tr *tokenResponse, fallback string) string {
	switch {
	case tr.ErrorMessage != "":
		return tr.ErrorMessage
	case tr.Error != nil && tr.Error.Message != "":
		return tr.Error.Message
	default:
		return fallback
	}
}
