package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	S3BucketName   string
	SNSTopicARN    string // ops notifications; empty disables publishing

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	Instagram InstagramConfig
	OTP       OTPConfig

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users     string
	OTPTokens string
}

// InstagramConfig carries the OAuth app credentials and the provider
// endpoints. The endpoint URLs are overridable so tests can point the client
// at a local fake.
type InstagramConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	OAuthBaseURL string // api.instagram.com
	GraphBaseURL string // graph.instagram.com
	HTTPTimeout  time.Duration
}

// OTPConfig is the issuance policy: time-to-live and reissue cooldown per
// purpose. TTLs follow the product defaults (login codes are the shortest).
type OTPConfig struct {
	RegistrationTTL      time.Duration
	LoginTTL             time.Duration
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration

	DefaultCooldown       time.Duration
	PasswordResetCooldown time.Duration

	CleanupInterval time.Duration
}

// TTLFor returns the configured time-to-live for an OTP purpose string.
func (c OTPConfig) TTLFor(purpose string) time.Duration {
	switch purpose {
	case "login":
		return c.LoginTTL
	case "password-reset":
		return c.PasswordResetTTL
	case "email-verification":
		return c.EmailVerificationTTL
	default:
		return c.RegistrationTTL
	}
}

// CooldownFor returns the configured reissue cooldown for an OTP purpose string.
func (c OTPConfig) CooldownFor(purpose string) time.Duration {
	if purpose == "password-reset" {
		return c.PasswordResetCooldown
	}
	return c.DefaultCooldown
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:     getEnv("DYNAMO_TABLE_USERS", "users"),
			OTPTokens: getEnv("DYNAMO_TABLE_OTP_TOKENS", "otp_tokens"),
		},
		S3BucketName: getEnv("S3_BUCKET_NAME", "identity-avatars"),
		SNSTopicARN:  getEnv("SNS_OPS_TOPIC_ARN", ""),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_DAYS", 7)) * 24 * time.Hour,

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		Instagram: InstagramConfig{
			ClientID:     getEnv("INSTAGRAM_CLIENT_ID", ""),
			ClientSecret: getEnv("INSTAGRAM_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("INSTAGRAM_REDIRECT_URI", ""),
			OAuthBaseURL: getEnv("INSTAGRAM_OAUTH_BASE_URL", "https://api.instagram.com"),
			GraphBaseURL: getEnv("INSTAGRAM_GRAPH_BASE_URL", "https://graph.instagram.com"),
			HTTPTimeout:  time.Duration(getEnvInt("INSTAGRAM_HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		OTP: OTPConfig{
			RegistrationTTL:       time.Duration(getEnvInt("OTP_REGISTRATION_TTL_MINUTES", 10)) * time.Minute,
			LoginTTL:              time.Duration(getEnvInt("OTP_LOGIN_TTL_MINUTES", 5)) * time.Minute,
			PasswordResetTTL:      time.Duration(getEnvInt("OTP_PASSWORD_RESET_TTL_MINUTES", 15)) * time.Minute,
			EmailVerificationTTL:  time.Duration(getEnvInt("OTP_EMAIL_VERIFICATION_TTL_MINUTES", 10)) * time.Minute,
			DefaultCooldown:       time.Duration(getEnvInt("OTP_COOLDOWN_SECONDS", 60)) * time.Second,
			PasswordResetCooldown: time.Duration(getEnvInt("OTP_PASSWORD_RESET_COOLDOWN_SECONDS", 120)) * time.Second,
			CleanupInterval:       time.Duration(getEnvInt("OTP_CLEANUP_INTERVAL_MINUTES", 15)) * time.Minute,
		},

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
