package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/audit"
	"pulseops.app/internal/ratelimit"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (s *captureSender) Send(_ context.Context, phone, code string, _ Purpose, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[phone] = code
	return nil
}

func (s *captureSender) last(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type eventSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *eventSink) Name() string { return "test" }
func (s *eventSink) Write(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

const phone = "+919876543210"

func newTestService(t *testing.T, clock *testClock, opts ...ServiceOption) (*Service, *captureSender, *eventSink) {
	t.Helper()
	ch := newTestChallenger(t, clock)
	sender := &captureSender{}
	sink := &eventSink{}
	base := []ServiceOption{
		WithSender(sender),
		WithAuditTrail(audit.New(audit.WithSinks(sink))),
		WithHourlyLimit(10),
		WithResendCooldown(0),
	}
	svc := NewService(ch, NewMemoryStore(clock.Now), ratelimit.NewMemory(clock.Now), append(base, opts...)...)
	return svc, sender, sink
}

func TestRequestAndVerify(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	svc, sender, sink := newTestService(t, clock)
	ctx := context.Background()

	ch, err := svc.Request(ctx, "  +919876543210 ", PurposeLogin)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !ch.ExpiresAt.Equal(clock.now.Add(5 * time.Minute)) {
		t.Fatalf("ExpiresAt = %v", ch.ExpiresAt)
	}
	code := sender.last(phone)
	if code == "" {
		t.Fatalf("sender did not receive a code")
	}

	rec, err := svc.Verify(ctx, ch.RequestID, code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if rec.Phone != phone || rec.Purpose != PurposeLogin {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := svc.Verify(ctx, ch.RequestID, code); apperr.CodeOf(err) != apperr.CodeOTPExpired {
		t.Fatalf("second verify should be OTP_EXPIRED, got %v", err)
	}

	for _, ev := range sink.events {
		if ev.Actor.Phone == phone {
			t.Fatalf("audit event %s carries an unmasked phone", ev.Type)
		}
		for _, v := range ev.Details {
			if v == code {
				t.Fatalf("audit event %s leaks the code", ev.Type)
			}
		}
	}
}

func TestVerifyPersistsAttempts(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	svc, sender, _ := newTestService(t, clock)
	ctx := context.Background()

	ch, err := svc.Request(ctx, phone, PurposeLogin)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	code := sender.last(phone)
	wrong := "999999"
	if code == wrong {
		wrong = "888888"
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.Verify(ctx, ch.RequestID, wrong); apperr.CodeOf(err) != apperr.CodeOTPInvalid {
			t.Fatalf("miss %d: %v", i+1, err)
		}
	}
	if _, err := svc.Verify(ctx, ch.RequestID, wrong); apperr.CodeOf(err) != apperr.CodeOTPMaxAttempts {
		t.Fatalf("third miss: %v", err)
	}
	if _, err := svc.Verify(ctx, ch.RequestID, code); apperr.CodeOf(err) != apperr.CodeOTPMaxAttempts {
		t.Fatalf("correct code after lockout: %v", err)
	}
}

func TestRequestRejectsInvalidPhone(t *testing.T) {
	svc, _, _ := newTestService(t, &testClock{now: time.Now()})
	if _, err := svc.Request(context.Background(), "+15551234567", PurposeLogin); apperr.CodeOf(err) != apperr.CodeInvalidPhoneNumber {
		t.Fatalf("expected INVALID_PHONE_NUMBER, got %v", err)
	}
}

func TestRequestHourlyLimit(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	svc, _, _ := newTestService(t, clock, WithHourlyLimit(2))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := svc.Request(ctx, phone, PurposeLogin); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if _, err := svc.Request(ctx, phone, PurposeLogin); apperr.CodeOf(err) != apperr.CodeOTPRateLimitExceeded {
		t.Fatalf("expected OTP_RATE_LIMIT_EXCEEDED, got %v", err)
	}
	clock.Advance(time.Hour)
	if _, err := svc.Request(ctx, phone, PurposeLogin); err != nil {
		t.Fatalf("after an hour: %v", err)
	}
}

func TestRequestResendCooldown(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	svc, _, _ := newTestService(t, clock, WithResendCooldown(2*time.Minute))
	ctx := context.Background()
	if _, err := svc.Request(ctx, phone, PurposeLogin); err != nil {
		t.Fatalf("Request: %v", err)
	}
	clock.Advance(30 * time.Second)
	_, err := svc.Request(ctx, phone, PurposeLogin)
	if apperr.CodeOf(err) != apperr.CodeOTPCooldown {
		t.Fatalf("expected OTP_RESEND_COOLDOWN, got %v", err)
	}
	if retry, ok := apperr.RetryAfter(err); !ok || retry != 90 {
		t.Fatalf("retry_after = %d", retry)
	}
	if _, err := svc.Request(ctx, phone, PurposeRegistration); err != nil {
		t.Fatalf("cooldown is per purpose: %v", err)
	}
	clock.Advance(90 * time.Second)
	if _, err := svc.Request(ctx, phone, PurposeLogin); err != nil {
		t.Fatalf("after cooldown: %v", err)
	}
}

func TestRequestSenderFailureDropsRecord(t *testing.T) {
	clock := &testClock{now: time.Now()}
	svc, sender, _ := newTestService(t, clock)
	sender.err = errors.New("whatsapp down")
	_, err := svc.Request(context.Background(), phone, PurposeLogin)
	if apperr.CodeOf(err) != apperr.CodeServiceUnavailable {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}
	if len(svc.store.(*MemoryStore).records) != 0 {
		t.Fatalf("record should be deleted after delivery failure")
	}
}

func TestRequestSenderFailureReleasesCooldown(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	svc, sender, _ := newTestService(t, clock, WithResendCooldown(2*time.Minute))
	ctx := context.Background()

	sender.mu.Lock()
	sender.err = errors.New("whatsapp down")
	sender.mu.Unlock()
	if _, err := svc.Request(ctx, phone, PurposeLogin); apperr.CodeOf(err) != apperr.CodeServiceUnavailable {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %v", err)
	}

	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	if _, err := svc.Request(ctx, phone, PurposeLogin); err != nil {
		t.Fatalf("retry after failed delivery: %v", err)
	}
	if sender.last(phone) == "" {
		t.Fatal("expected code to be delivered on retry")
	}
	if _, err := svc.Request(ctx, phone, PurposeLogin); apperr.CodeOf(err) != apperr.CodeOTPCooldown {
		t.Fatalf("successful delivery must hold the cooldown, got %v", err)
	}
}

func TestVerifyUnknownRequest(t *testing.T) {
	svc, _, _ := newTestService(t, &testClock{now: time.Now()})
	if _, err := svc.Verify(context.Background(), "missing", "123456"); apperr.CodeOf(err) != apperr.CodeOTPExpired {
		t.Fatalf("expected OTP_EXPIRED, got %v", err)
	}
	if _, err := svc.Verify(context.Background(), "", "123456"); apperr.CodeOf(err) != apperr.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
