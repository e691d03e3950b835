package pii

import (
	"strings"
	"unicode/utf8"
)

const maskRune = "*"

// MaskValue keeps the first and last character and masks the interior.
// Values shorter than four characters, and invalid UTF-8, are masked entirely.
func MaskValue(value string) string {
	if value == "" {
		return ""
	}
	if !utf8.ValidString(value) {
		return strings.Repeat(maskRune, len(value))
	}
	runes := []rune(value)
	if len(runes) < 4 {
		return strings.Repeat(maskRune, len(runes))
	}
	return string(runes[0]) + strings.Repeat(maskRune, len(runes)-2) + string(runes[len(runes)-1])
}

// MaskPhone keeps three leading and three trailing characters. Numbers of six
// characters or fewer are masked entirely.
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if !utf8.ValidString(phone) {
		return strings.Repeat(maskRune, len(phone))
	}
	runes := []rune(phone)
	if len(runes) <= 6 {
		return strings.Repeat(maskRune, len(runes))
	}
	return string(runes[:3]) + strings.Repeat(maskRune, len(runes)-6) + string(runes[len(runes)-3:])
}

// MaskEmail masks the local part and keeps the domain.
func MaskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return MaskValue(email)
	}
	return MaskValue(email[:at]) + email[at:]
}
