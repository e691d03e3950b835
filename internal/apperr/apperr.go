// Package apperr defines the typed error taxonomy shared by the security
// subsystem and its table-driven mapping onto HTTP status classes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	// authentication
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeTokenRevoked       Code = "TOKEN_REVOKED"
	CodeAccountInactive    Code = "ACCOUNT_INACTIVE"
	CodeAccountLocked      Code = "ACCOUNT_LOCKED"

	// authorization
	CodeInsufficientPermissions Code = "INSUFFICIENT_PERMISSIONS"
	CodeRoleRequired            Code = "ROLE_REQUIRED"
	CodeClinicAccessDenied      Code = "CLINIC_ACCESS_DENIED"
	CodeDoctorAccessDenied      Code = "DOCTOR_ACCESS_DENIED"
	CodePatientAccessDenied     Code = "PATIENT_ACCESS_DENIED"

	// otp
	CodeOTPExpired     Code = "OTP_EXPIRED"
	CodeOTPInvalid     Code = "OTP_INVALID"
	CodeOTPMaxAttempts Code = "OTP_MAX_ATTEMPTS"
	CodeOTPCooldown    Code = "OTP_RESEND_COOLDOWN"

	// validation
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	CodeInvalidPhoneNumber   Code = "INVALID_PHONE_NUMBER"
	CodeWeakPassword         Code = "WEAK_PASSWORD"

	// rate limiting
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeOTPRateLimitExceeded Code = "OTP_RATE_LIMIT_EXCEEDED"

	// security operations
	CodeSecurityError   Code = "SECURITY_ERROR"
	CodeEncryptionError Code = "ENCRYPTION_ERROR"
	CodeDecryptionError Code = "DECRYPTION_ERROR"

	// infrastructure
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeInvalidCredentials: http.StatusUnauthorized,
	CodeTokenExpired:       http.StatusUnauthorized,
	CodeInvalidToken:       http.StatusUnauthorized,
	CodeTokenRevoked:       http.StatusUnauthorized,
	CodeAccountInactive:    http.StatusUnauthorized,
	CodeAccountLocked:      http.StatusUnauthorized,

	CodeInsufficientPermissions: http.StatusForbidden,
	CodeRoleRequired:            http.StatusForbidden,
	CodeClinicAccessDenied:      http.StatusForbidden,
	CodeDoctorAccessDenied:      http.StatusForbidden,
	CodePatientAccessDenied:     http.StatusForbidden,

	CodeOTPExpired:     http.StatusUnprocessableEntity,
	CodeOTPInvalid:     http.StatusUnprocessableEntity,
	CodeOTPMaxAttempts: http.StatusUnprocessableEntity,
	CodeOTPCooldown:    http.StatusUnprocessableEntity,

	CodeInvalidInput:         http.StatusUnprocessableEntity,
	CodeMissingRequiredField: http.StatusUnprocessableEntity,
	CodeInvalidPhoneNumber:   http.StatusUnprocessableEntity,
	CodeWeakPassword:         http.StatusUnprocessableEntity,

	CodeRateLimitExceeded:    http.StatusTooManyRequests,
	CodeOTPRateLimitExceeded: http.StatusTooManyRequests,

	CodeSecurityError:   http.StatusInternalServerError,
	CodeEncryptionError: http.StatusInternalServerError,
	CodeDecryptionError: http.StatusInternalServerError,

	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeInternal:           http.StatusInternalServerError,
}

var messageByCode = map[Code]string{
	CodeInvalidCredentials:      "Invalid credentials provided",
	CodeTokenExpired:            "Access token has expired. Please login again",
	CodeInvalidToken:            "Invalid authentication token",
	CodeTokenRevoked:            "Token has been revoked. Please login again",
	CodeAccountInactive:         "Account is not active",
	CodeAccountLocked:           "Account is temporarily locked",
	CodeInsufficientPermissions: "You don't have permission to perform this action",
	CodeRoleRequired:            "This action requires a different role",
	CodeClinicAccessDenied:      "Access denied: Resource belongs to different clinic",
	CodeDoctorAccessDenied:      "Access denied: Resource belongs to different doctor",
	CodePatientAccessDenied:     "Access denied: Patient is not associated with this doctor",
	CodeOTPExpired:              "OTP has expired. Please request a new one",
	CodeOTPInvalid:              "Invalid OTP code",
	CodeOTPMaxAttempts:          "Maximum OTP attempts exceeded. Please request a new one",
	CodeOTPCooldown:             "Please wait before requesting another OTP",
	CodeInvalidInput:            "Invalid input provided",
	CodeMissingRequiredField:    "Required field is missing",
	CodeInvalidPhoneNumber:      "Invalid WhatsApp number format",
	CodeWeakPassword:            "Password does not meet security requirements",
	CodeRateLimitExceeded:       "Too many requests. Please try again later",
	CodeOTPRateLimitExceeded:    "Too many OTP requests. Please try again later",
	CodeSecurityError:           "Security operation failed",
	CodeEncryptionError:         "Failed to encrypt data",
	CodeDecryptionError:         "Failed to decrypt data",
	CodeServiceUnavailable:      "Service temporarily unavailable",
	CodeInternal:                "Internal server error",
}

// Status returns the HTTP status class for a code. Unknown codes map to 500.
func Status(code Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Message returns the default human message for a code.
func Message(code Code) string {
	if m, ok := messageByCode[code]; ok {
		return m
	}
	return messageByCode[CodeInternal]
}

// Error is the single error type crossing package boundaries in the
// security subsystem.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

// New builds an Error with the default message for code when msg is empty.
func New(code Code, msg string) *Error {
	if msg == "" {
		msg = Message(code)
	}
	return &Error{Code: code, Message: msg}
}

// Wrap builds an Error carrying cause.
func Wrap(code Code, msg string, cause error) *Error {
	e := New(code, msg)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e with an extra detail attached.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// Sentinels for errors.Is comparisons.
var (
	ErrTokenExpired            = &Error{Code: CodeTokenExpired}
	ErrInvalidToken            = &Error{Code: CodeInvalidToken}
	ErrTokenRevoked            = &Error{Code: CodeTokenRevoked}
	ErrInsufficientPermissions = &Error{Code: CodeInsufficientPermissions}
	ErrRoleRequired            = &Error{Code: CodeRoleRequired}
	ErrClinicAccessDenied      = &Error{Code: CodeClinicAccessDenied}
	ErrDoctorAccessDenied      = &Error{Code: CodeDoctorAccessDenied}
	ErrPatientAccessDenied     = &Error{Code: CodePatientAccessDenied}
	ErrOTPExpired              = &Error{Code: CodeOTPExpired}
	ErrOTPInvalid              = &Error{Code: CodeOTPInvalid}
	ErrOTPMaxAttempts          = &Error{Code: CodeOTPMaxAttempts}
	ErrRateLimitExceeded       = &Error{Code: CodeRateLimitExceeded}
	ErrServiceUnavailable      = &Error{Code: CodeServiceUnavailable}
	ErrInvalidInput            = &Error{Code: CodeInvalidInput}
)

// CodeOf extracts the code from err, or CodeInternal when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StatusOf is Status(CodeOf(err)).
func StatusOf(err error) int {
	return Status(CodeOf(err))
}

// Body renders the JSON error envelope returned to clients.
func Body(err error) map[string]any {
	var e *Error
	if !errors.As(err, &e) {
		e = New(CodeInternal, "")
	}
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	return map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    string(e.Code),
			"message": e.Message,
			"details": details,
		},
	}
}
