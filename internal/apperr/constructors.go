package apperr

import (
	"errors"
	"math"
	"time"
)

// InvalidToken reports a signature, format or structural failure.
func InvalidToken(reason string) *Error {
	e := New(CodeInvalidToken, "")
	if reason != "" {
		e = e.With("reason", reason)
	}
	return e
}

// MissingField reports a required token claim that was absent.
func MissingField(field string) *Error {
	return InvalidToken("missing required field").With("field", field)
}

// Required reports a request field the caller left empty.
func Required(field string) *Error {
	return New(CodeMissingRequiredField, "").With("field", field)
}

// InsufficientPermissions reports a missing capability.
func InsufficientPermissions(required ...string) *Error {
	return New(CodeInsufficientPermissions, "").With("required_permissions", required)
}

// OTPInvalid reports a wrong code with the remaining attempt budget.
func OTPInvalid(attemptsRemaining int) *Error {
	return New(CodeOTPInvalid, "").With("attempts_remaining", attemptsRemaining)
}

// OTPMaxAttempts reports an exhausted challenge.
func OTPMaxAttempts(cooldown time.Duration) *Error {
	return New(CodeOTPMaxAttempts, "").With("cooldown_minutes", int(cooldown/time.Minute))
}

// RateLimited reports a rejected request; retryAfter is rounded up to whole seconds.
func RateLimited(code Code, retryAfter time.Duration) *Error {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return New(code, "").With("retry_after", secs)
}

// RetryAfter returns the retry hint carried by a rate-limit error.
func RetryAfter(err error) (int, bool) {
	var e *Error
	if !errors.As(err, &e) || e.Details == nil {
		return 0, false
	}
	v, ok := e.Details["retry_after"].(int)
	return v, ok
}

// Unavailable reports a failing backing store.
func Unavailable(store string, cause error) *Error {
	return Wrap(CodeServiceUnavailable, "", cause).With("store", store)
}

// InvalidInput reports a malformed argument.
func InvalidInput(field, msg string) *Error {
	return New(CodeInvalidInput, msg).With("field", field)
}
