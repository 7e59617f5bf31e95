// Package otpcode generates and hashes one-time passcodes.
package otpcode

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

var codeMax = big.NewInt(1_000_000) // 10^6 for a 6-digit code

// Generate returns a uniformly random 6-digit numeric code, zero-padded so it
// is always exactly 6 characters.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeMax)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Hash returns the SHA-256 hex digest of a plaintext code. Deterministic:
// the digest is both the stored credential and the lookup key for claimed
// codes, so equal plaintexts must yield equal digests.
func Hash(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
