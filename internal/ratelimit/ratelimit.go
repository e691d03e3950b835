// Package ratelimit implements sliding-window request counters keyed by an
// arbitrary identifier such as a phone number, user id or client IP.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/obs"
)

// Limiter admits or rejects one event for identifier. An accepted call is
// recorded; a rejected call is not. Rejections carry RATE_LIMIT_EXCEEDED
// with a retry_after hint.
type Limiter interface {
	CheckAndRecord(ctx context.Context, identifier string, limit int, window time.Duration) error
}

// OTPWindow is the window of the per-phone OTP request limit.
const OTPWindow = time.Hour

// CheckOTP applies the hourly OTP request limit for phone.
func CheckOTP(ctx context.Context, l Limiter, phone string, perHour int) error {
	err := l.CheckAndRecord(ctx, "otp:"+phone, perHour, OTPWindow)
	if err == nil {
		return nil
	}
	if apperr.CodeOf(err) != apperr.CodeRateLimitExceeded {
		return err
	}
	obs.RateLimited("otp")
	retry, _ := apperr.RetryAfter(err)
	return apperr.RateLimited(apperr.CodeOTPRateLimitExceeded, time.Duration(retry)*time.Second)
}

// Memory keeps windows in process. Suitable for single-instance deployments.
type Memory struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewMemory builds an empty limiter. A nil clock means time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{windows: make(map[string][]time.Time), now: now}
}

func (m *Memory) CheckAndRecord(_ context.Context, identifier string, limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return apperr.InvalidInput("limit", "limit and window must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	kept := prune(m.windows[identifier], now.Add(-window))
	if len(kept) >= limit {
		m.windows[identifier] = kept
		return apperr.RateLimited(apperr.CodeRateLimitExceeded, kept[0].Add(window).Sub(now))
	}
	m.windows[identifier] = append(kept, now)
	return nil
}

// SweepIdle drops identifiers whose newest event is older than window.
func (m *Memory) SweepIdle(window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-window)
	removed := 0
	for id, ts := range m.windows {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(m.windows, id)
			removed++
		}
	}
	return removed
}

// prune drops timestamps at or before cutoff. ts is ordered oldest first.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
