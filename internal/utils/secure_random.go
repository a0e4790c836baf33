package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateSecureRandomString generates a cryptographically secure random string of the specified byte length,
// then hex encodes it. For example, lengthInBytes=32 will result in a 64-character hex string.
func GenerateSecureRandomString(lengthInBytes int) (string, error) {
	if lengthInBytes <= 0 {
		return "", fmt.Errorf("lengthInBytes must be positive")
	}
	b := make([]byte, lengthInBytes)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// referencePrefix is how the aggregator dashboard groups our operations.
const referencePrefix = "FKash"

// GenerateReference builds a transaction reference such as FKash-2024-05-01-3fa2b9c01d.
func GenerateReference(now time.Time) (string, error) {
	suffix, err := GenerateSecureRandomString(5)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", referencePrefix, now.UTC().Format("2006-01-02"), suffix), nil
}
