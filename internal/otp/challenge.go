// Package otp issues and verifies one-time codes delivered over WhatsApp.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/ids"
)

// Purpose scopes a code to the flow that requested it.
type Purpose string

const (
	PurposeRegistration  Purpose = "REGISTRATION"
	PurposeLogin         Purpose = "LOGIN"
	PurposePasswordReset Purpose = "PASSWORD_RESET"
)

// ParsePurpose maps a wire value onto a Purpose.
func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(strings.ToUpper(strings.TrimSpace(s))); p {
	case PurposeRegistration, PurposeLogin, PurposePasswordReset:
		return p, nil
	}
	return "", apperr.InvalidInput("purpose", fmt.Sprintf("unknown purpose %q", s))
}

// Record is the persisted state of one challenge. The plain code is never stored.
type Record struct {
	RequestID   string    `json:"request_id"`
	Phone       string    `json:"phone"`
	Purpose     Purpose   `json:"purpose"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	Used        bool      `json:"used"`
}

// ExpiresAt is the instant the record stops accepting codes.
func (r Record) ExpiresAt(ttl time.Duration) time.Time {
	return r.CreatedAt.Add(ttl)
}

// Challenger generates and checks codes. It holds no per-challenge state.
type Challenger struct {
	secret      []byte
	length      int
	ttl         time.Duration
	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
}

// ChallengerOption configures a Challenger.
type ChallengerOption func(*Challenger)

func WithLength(n int) ChallengerOption {
	return func(c *Challenger) {
		if n > 0 {
			c.length = n
		}
	}
}

func WithTTL(ttl time.Duration) ChallengerOption {
	return func(c *Challenger) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithMaxAttempts(n int) ChallengerOption {
	return func(c *Challenger) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithLockout sets the cooldown reported once attempts are exhausted.
func WithLockout(d time.Duration) ChallengerOption {
	return func(c *Challenger) {
		if d > 0 {
			c.lockout = d
		}
	}
}

func WithClock(fn func() time.Time) ChallengerOption {
	return func(c *Challenger) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewChallenger builds a Challenger keyed by secret.
func NewChallenger(secret string, opts ...ChallengerOption) (*Challenger, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("otp: secret is required")
	}
	c := &Challenger{
		secret:      []byte(secret),
		length:      6,
		ttl:         5 * time.Minute,
		maxAttempts: 3,
		lockout:     15 * time.Minute,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL is the lifetime of generated records.
func (c *Challenger) TTL() time.Duration { return c.ttl }

// Generate creates a new record for phone and returns it with the plain code.
func (c *Challenger) Generate(phone string, purpose Purpose) (Record, string, error) {
	code, err := randomDigits(c.length)
	if err != nil {
		return Record{}, "", apperr.Wrap(apperr.CodeSecurityError, "", err)
	}
	rec := Record{
		RequestID:   ids.New(),
		Phone:       phone,
		Purpose:     purpose,
		CreatedAt:   c.now().UTC(),
		MaxAttempts: c.maxAttempts,
	}
	rec.Hash = c.Hash(code, rec.RequestID)
	return rec, code, nil
}

// Hash binds code to requestID under the server secret.
func (c *Challenger) Hash(code, requestID string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte("otp:" + code + ":" + requestID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks code against rec and mutates rec: a mismatch increments
// Attempts, a match marks it Used. The caller persists rec either way.
func (c *Challenger) Verify(code string, rec *Record) error {
	if rec.Used {
		return apperr.ErrOTPExpired
	}
	limit := rec.MaxAttempts
	if limit <= 0 {
		limit = c.maxAttempts
	}
	if rec.Attempts >= limit {
		return apperr.OTPMaxAttempts(c.lockout)
	}
	if !c.now().Before(rec.ExpiresAt(c.ttl)) {
		return apperr.ErrOTPExpired
	}
	want := c.Hash(strings.TrimSpace(code), rec.RequestID)
	if !hmac.Equal([]byte(want), []byte(rec.Hash)) {
		rec.Attempts++
		if rec.Attempts >= limit {
			return apperr.OTPMaxAttempts(c.lockout)
		}
		return apperr.OTPInvalid(limit - rec.Attempts)
	}
	rec.Used = true
	return nil
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
