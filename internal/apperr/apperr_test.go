package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestStatusTable(t *testing.T) {
	cases := map[Code]int{
		CodeTokenExpired:            http.StatusUnauthorized,
		CodeTokenRevoked:            http.StatusUnauthorized,
		CodeInsufficientPermissions: http.StatusForbidden,
		CodePatientAccessDenied:     http.StatusForbidden,
		CodeOTPMaxAttempts:          http.StatusUnprocessableEntity,
		CodeRateLimitExceeded:       http.StatusTooManyRequests,
		CodeServiceUnavailable:      http.StatusServiceUnavailable,
		Code("SOMETHING_NEW"):       http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := Status(code); got != want {
			t.Fatalf("Status(%s)=%d, want %d", code, got, want)
		}
	}
}

func TestEveryCodeHasStatusAndMessage(t *testing.T) {
	for code := range statusByCode {
		if _, ok := messageByCode[code]; !ok {
			t.Fatalf("code %s has no message", code)
		}
	}
	for code := range messageByCode {
		if _, ok := statusByCode[code]; !ok {
			t.Fatalf("code %s has no status", code)
		}
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("verify: %w", InvalidToken("bad signature"))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected errors.Is to match invalid token")
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Fatalf("unexpected match on token expired")
	}
	if StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", StatusOf(err))
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatalf("plain errors should map to internal")
	}
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	base := New(CodeOTPInvalid, "")
	derived := base.With("attempts_remaining", 2)
	if base.Details != nil {
		t.Fatalf("receiver mutated: %v", base.Details)
	}
	if derived.Details["attempts_remaining"] != 2 {
		t.Fatalf("detail missing: %v", derived.Details)
	}
}

func TestRateLimitedRoundsUp(t *testing.T) {
	err := RateLimited(CodeRateLimitExceeded, 1500*time.Millisecond)
	secs, ok := RetryAfter(fmt.Errorf("wrapped: %w", err))
	if !ok || secs != 2 {
		t.Fatalf("expected retry_after=2, got %d ok=%v", secs, ok)
	}
	if secs, _ := RetryAfter(RateLimited(CodeRateLimitExceeded, 0)); secs != 1 {
		t.Fatalf("expected minimum retry_after of 1, got %d", secs)
	}
}

func TestBodyEnvelope(t *testing.T) {
	body := Body(OTPInvalid(1))
	if body["success"] != false {
		t.Fatalf("expected success=false")
	}
	inner := body["error"].(map[string]any)
	if inner["code"] != string(CodeOTPInvalid) {
		t.Fatalf("unexpected code %v", inner["code"])
	}
	details := inner["details"].(map[string]any)
	if details["attempts_remaining"] != 1 {
		t.Fatalf("unexpected details %v", details)
	}
	plain := Body(errors.New("boom"))["error"].(map[string]any)
	if plain["code"] != string(CodeInternal) {
		t.Fatalf("unexpected code for plain error: %v", plain["code"])
	}
}
