package state

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// New generates a cryptographically random 32-character hex string used as
// the OAuth state parameter on the consent-screen URL.
func New() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
