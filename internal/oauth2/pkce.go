package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// verifierLength is the number of random bytes in a PKCE code verifier.
// 32 bytes encodes to 43 characters, the RFC 7636 minimum.
const verifierLength = 32

// GenerateVerifier generates a PKCE code verifier.
func GenerateVerifier() (string, error) {
	raw := make([]byte, verifierLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Challenge computes the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// VerifyChallenge reports whether a verifier matches an S256 challenge.
func VerifyChallenge(verifier, challenge string) bool {
	return Challenge(verifier) == challenge
}
