package domain

import (
	"strings"
	"time"
)

// OTPPurpose scopes a code to the flow it was issued for. Records for
// different purposes coexist independently for the same recipient.
type OTPPurpose string

const (
	PurposeRegistration      OTPPurpose = "registration"
	PurposeLogin             OTPPurpose = "login"
	PurposePasswordReset     OTPPurpose = "password-reset"
	PurposeEmailVerification OTPPurpose = "email-verification"
)

// ValidPurpose reports whether p is one of the four known purposes.
func ValidPurpose(p OTPPurpose) bool {
	switch p {
	case PurposeRegistration, PurposeLogin, PurposePasswordReset, PurposeEmailVerification:
		return true
	}
	return false
}

// MaxOTPAttempts is the failed-verification budget per record.
const MaxOTPAttempts = 3

// OTPToken is one issued code for a (recipient, purpose) pair.
// PK: recipient, SK: purpose — at most one record per pair, so reissuance
// supersedes the prior code. Only the SHA-256 digest is stored; the plaintext
// exists just long enough to hand to the notification sender.
// ExpiresAt doubles as the DynamoDB TTL attribute.
type OTPToken struct {
	Recipient string     `json:"recipient" dynamodbav:"recipient"`
	Purpose   OTPPurpose `json:"purpose" dynamodbav:"purpose"`
	Digest    string     `json:"-" dynamodbav:"digest"`
	Attempts  int        `json:"attempts" dynamodbav:"attempts"`
	Used      bool       `json:"used" dynamodbav:"used"`
	CreatedAt time.Time  `json:"created_at" dynamodbav:"created_at,unixtime"`
	ExpiresAt int64      `json:"expires_at" dynamodbav:"expires_at"` // Unix seconds
	UsedAt    *time.Time `json:"used_at,omitempty" dynamodbav:"used_at"`
}

// Expired reports whether the record's expiry has passed at the given instant.
func (t *OTPToken) Expired(now time.Time) bool {
	return t.ExpiresAt < now.Unix()
}

// Exhausted reports whether the failed-attempt budget is spent.
func (t *OTPToken) Exhausted() bool {
	return t.Attempts >= MaxOTPAttempts
}

// Stale reports whether the record can no longer verify anything and is safe
// to purge at issuance time.
func (t *OTPToken) Stale(now time.Time) bool {
	return t.Used || t.Expired(now) || t.Exhausted()
}

// NormalizeRecipient lower-cases and trims an email recipient so lookups are
// insensitive to how the caller typed the address.
func NormalizeRecipient(recipient string) string {
	return strings.ToLower(strings.TrimSpace(recipient))
}
