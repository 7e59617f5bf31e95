package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// OTP verification outcomes. Each is terminal: the caller must request a
	// fresh code, never retry. ErrOTPInvalid covers both "no record" and
	// "wrong code" so responses don't reveal which part failed.
	ErrRateLimited    = errors.New("rate limited")
	ErrOTPInvalid     = errors.New("invalid verification code")
	ErrOTPExpired     = errors.New("verification code expired")
	ErrOTPMaxAttempts = errors.New("maximum verification attempts exceeded")

	// ErrUpstream marks a non-2xx or malformed response from the external provider.
	ErrUpstream = errors.New("upstream provider error")
)
