// Package secrets generates and verifies API key material. Presented keys
// look like mtk_<keyId>_<secret>: the readable prefix makes leaked keys easy
// to spot in logs and scanners, the key ID makes lookup cheap, and only the
// bcrypt hash of the secret is ever stored.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	dErrors "kompetens/pkg/domain-errors"
)

// Prefix marks municipal training keys.
const Prefix = "mtk_"

// GenerateKeyID creates a short random key identifier. Hex keeps it free of
// the underscore separator used by the presented format.
func GenerateKeyID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate key id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateSecret creates a cryptographically secure random secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Format assembles the presented key string handed to the caller once at
// issuance.
func Format(keyID, secret string) string {
	return Prefix + keyID + "_" + secret
}

// Parse splits a presented key into its ID and secret. The secret may itself
// contain underscores, so only the first separator after the key ID counts.
func Parse(presented string) (keyID, secret string, err error) {
	rest, ok := strings.CutPrefix(presented, Prefix)
	if !ok {
		return "", "", dErrors.New(dErrors.CodeUnauthorized, "Invalid API key")
	}
	keyID, secret, ok = strings.Cut(rest, "_")
	if !ok || keyID == "" || secret == "" {
		return "", "", dErrors.New(dErrors.CodeUnauthorized, "Invalid API key")
	}
	return keyID, secret, nil
}

// Hash creates a bcrypt hash of the secret for storage.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "secret is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a plaintext secret against its stored bcrypt hash.
func Verify(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "Invalid API key")
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}
