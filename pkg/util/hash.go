package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashEmail returns the SHA-256 of the normalized email, or "" for empty input.
func HashEmail(email string) string {
	return hashNonEmpty(NormalizeEmail(email))
}

// HashPhone returns the SHA-256 of the normalized phone number, or "" for empty input.
func HashPhone(phone string) string {
	return hashNonEmpty(NormalizePhone(phone))
}

// HashString returns the SHA-256 of a lowercased, trimmed string.
func HashString(input string) string {
	return hashNonEmpty(strings.TrimSpace(strings.ToLower(input)))
}

func hashNonEmpty(input string) string {
	if input == "" {
		return ""
	}
	return hashString(input)
}

func hashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
