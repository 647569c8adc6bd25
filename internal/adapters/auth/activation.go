package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"waitlistgate/internal/domain"
)

// Activation token sizes in random bytes; the hex form is twice as long.
const (
	MinActivationTokenBytes     = 16
	DefaultActivationTokenBytes = 32
)

type activationTokenIssuer struct{}

// NewActivationTokenIssuer returns an ActivationTokenIssuer backed by crypto/rand.
func NewActivationTokenIssuer() domain.ActivationTokenIssuer {
	return activationTokenIssuer{}
}

func (activationTokenIssuer) Issue(byteLength int) (string, error) {
	return GenerateActivationToken(byteLength)
}

// GenerateActivationToken returns byteLength random bytes as lowercase hex.
// A failing randomness source is returned as an error; there is no fallback generator.
func GenerateActivationToken(byteLength int) (string, error) {
	if byteLength < MinActivationTokenBytes {
		return "", fmt.Errorf("activation token needs at least %d bytes, got %d", MinActivationTokenBytes, byteLength)
	}
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
