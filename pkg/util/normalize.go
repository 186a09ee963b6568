package util

import (
	"regexp"
	"strings"
)

var (
	// multiSpacePattern matches runs of whitespace inside user input.
	multiSpacePattern = regexp.MustCompile(`\s+`)
	// emailPattern accepts anything shaped like local@domain.tld.
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	// nonDigitPattern strips formatting from phone numbers.
	nonDigitPattern = regexp.MustCompile(`[^0-9]`)
)

// CleanField trims and collapses whitespace in a free-text form field.
func CleanField(s string) string {
	return strings.TrimSpace(multiSpacePattern.ReplaceAllString(s, " "))
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email looks like an address.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(NormalizeEmail(email))
}

// NormalizePhone reduces a phone number to digits in international form
// without the leading plus. Swiss national numbers ("079 123 45 67") get
// the 41 country code; "0041..." loses its international prefix.
func NormalizePhone(phone string) string {
	digits := nonDigitPattern.ReplaceAllString(phone, "")
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "00"):
		return digits[2:]
	case strings.HasPrefix(digits, "0"):
		return "41" + digits[1:]
	}
	return digits
}
