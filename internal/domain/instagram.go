package domain

import "time"

// TokenTier distinguishes the two Instagram access-token lifetimes.
type TokenTier string

const (
	TokenTierShortLived TokenTier = "short-lived"
	TokenTierLongLived  TokenTier = "long-lived"
)

// InstagramProfile is a snapshot of the external account at link time, not
// live data. Field names follow the Graph API response.
type InstagramProfile struct {
	ID             string `json:"id" dynamodbav:"id"`
	Username       string `json:"username" dynamodbav:"username"`
	AccountType    string `json:"account_type" dynamodbav:"account_type"`
	MediaCount     int    `json:"media_count" dynamodbav:"media_count"`
	FollowersCount int    `json:"followers_count,omitempty" dynamodbav:"followers_count"`
	ProfilePicture string `json:"profile_picture_url,omitempty" dynamodbav:"profile_picture_url"`
}

// InstagramLinkage is the stored association between an internal user and a
// verified Instagram account. Connected=true implies AccessToken and Profile
// are set; disconnect clears all fields in one update, never partially.
type InstagramLinkage struct {
	Connected      bool              `json:"connected" dynamodbav:"connected"`
	AccessToken    string            `json:"-" dynamodbav:"access_token"`
	TokenExpiresAt *time.Time        `json:"token_expires_at,omitempty" dynamodbav:"token_expires_at"`
	Profile        *InstagramProfile `json:"profile,omitempty" dynamodbav:"profile"`
	ConnectedAt    *time.Time        `json:"connected_at,omitempty" dynamodbav:"connected_at"`
	AvatarKey      string            `json:"-" dynamodbav:"avatar_key"`
}

// ConnectionStatus is the read-only projection of a linkage. It never carries
// the raw access token.
type ConnectionStatus struct {
	Connected      bool       `json:"connected"`
	Username       string     `json:"username,omitempty"`
	AccountType    string     `json:"account_type,omitempty"`
	FollowersCount int        `json:"followers_count,omitempty"`
	AvatarURL      string     `json:"avatar_url,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// ExchangeResult is the transient outcome of one OAuth handshake attempt,
// consumed immediately by the linker.
type ExchangeResult struct {
	AccessToken      string
	ExpiresInSeconds int64
	Tier             TokenTier
}
