package pii

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"pulseops.app/internal/apperr"
)

// DefaultMaxInputLength caps free-text fields accepted from clients.
const DefaultMaxInputLength = 1000

var whatsAppNumber = regexp.MustCompile(`^\+91[6-9]\d{9}$`)

// NormalizePhone strips spaces, dashes and parentheses.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// ValidateWhatsAppNumber accepts Indian mobile numbers in E.164 form and
// returns the normalized number.
func ValidateWhatsAppNumber(phone string) (string, error) {
	n := NormalizePhone(phone)
	if !whatsAppNumber.MatchString(n) {
		return "", apperr.New(apperr.CodeInvalidPhoneNumber, "").With("phone", MaskPhone(n))
	}
	return n, nil
}

// SanitizeInput drops control characters, escapes HTML and truncates to maxLen runes.
func SanitizeInput(value string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxInputLength
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	cleaned = strings.TrimSpace(cleaned)
	if runes := []rune(cleaned); len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return html.EscapeString(cleaned)
}

var (
	phoneKeys = []string{"phone", "whatsapp", "mobile"}
	emailKeys = []string{"email"}
	nameKeys  = []string{"name", "address", "aadhaar", "diagnosis", "notes"}
)

// SanitizeHealthcareRecord returns a copy of record safe for logs: phone-like,
// email-like and identity-like keys are masked, nested maps are walked.
func SanitizeHealthcareRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for k, v := range record {
		key := strings.ToLower(k)
		switch val := v.(type) {
		case map[string]any:
			out[k] = SanitizeHealthcareRecord(val)
		case string:
			switch {
			case containsAny(key, phoneKeys):
				out[k] = MaskPhone(val)
			case containsAny(key, emailKeys):
				out[k] = MaskEmail(val)
			case containsAny(key, nameKeys):
				out[k] = MaskValue(val)
			default:
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
