// Package messaging holds the phone-number handling shared by the SMS surfaces.
package messaging

import "strings"

// NormalizeDigits reduces a phone number to the key used for conversation lookups:
// digits only, with a leading US country code stripped from 11-digit numbers.
// Garbage input yields an empty string rather than an error.
func NormalizeDigits(value string) string {
	digits := digitsOnly(value)
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// NormalizeE164 ensures the value begins with + and only contains digits afterward.
// Ten-digit numbers are assumed to be US numbers.
func NormalizeE164(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	digits := digitsOnly(value)
	if digits == "" {
		return ""
	}
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return "+" + digits
}

// MaskPhone keeps the last four digits for logging.
func MaskPhone(value string) string {
	digits := digitsOnly(value)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

func digitsOnly(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
