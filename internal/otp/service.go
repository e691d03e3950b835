package otp

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/audit"
	"pulseops.app/internal/obs"
	"pulseops.app/internal/pii"
	"pulseops.app/internal/ratelimit"
)

// Sender delivers a plain code to the user. Delivery transport is external.
type Sender interface {
	Send(ctx context.Context, phone, code string, purpose Purpose, validFor time.Duration) error
}

// LogSender records that a code was handed off without revealing it.
type LogSender struct{}

func (LogSender) Send(_ context.Context, phone, _ string, purpose Purpose, validFor time.Duration) error {
	obs.Logger().WithFields(logrus.Fields{
		"phone":     pii.MaskPhone(phone),
		"purpose":   string(purpose),
		"valid_for": validFor.String(),
	}).Info("otp_dispatched")
	return nil
}

// Challenge is what a caller learns about a freshly issued code.
type Challenge struct {
	RequestID string    `json:"request_id"`
	Purpose   Purpose   `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service runs the request and verify flows on top of a Challenger.
type Service struct {
	challenger  *Challenger
	store       Store
	limiter     ratelimit.Limiter
	sender      Sender
	trail       *audit.Trail
	hourlyLimit int
	cooldown    time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithHourlyLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.hourlyLimit = n
		}
	}
}

func WithResendCooldown(d time.Duration) ServiceOption {
	return func(s *Service) { s.cooldown = d }
}

func WithSender(sender Sender) ServiceOption {
	return func(s *Service) {
		if sender != nil {
			s.sender = sender
		}
	}
}

func WithAuditTrail(trail *audit.Trail) ServiceOption {
	return func(s *Service) { s.trail = trail }
}

// NewService wires the OTP flow. The default sender only logs.
func NewService(ch *Challenger, store Store, limiter ratelimit.Limiter, opts ...ServiceOption) *Service {
	s := &Service{
		challenger:  ch,
		store:       store,
		limiter:     limiter,
		sender:      LogSender{},
		hourlyLimit: 10,
		cooldown:    2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request issues a new code for phone.
func (s *Service) Request(ctx context.Context, phone string, purpose Purpose) (Challenge, error) {
	phone, err := pii.ValidateWhatsAppNumber(phone)
	if err != nil {
		return Challenge{}, err
	}
	actor := audit.Actor{Phone: phone}

	if err := ratelimit.CheckOTP(ctx, s.limiter, phone, s.hourlyLimit); err != nil {
		obs.OTPEvent("rate_limited")
		s.trail.Record(ctx, audit.CategoryAuthentication, "otp_request", actor, audit.OutcomeDenied, map[string]any{
			"purpose": string(purpose),
			"reason":  string(apperr.CodeOf(err)),
		})
		return Challenge{}, err
	}
	if s.cooldown > 0 {
		ok, left, err := s.store.ClaimCooldown(ctx, phone, purpose, s.cooldown)
		if err != nil {
			obs.StoreError("otp", "claim_cooldown")
			return Challenge{}, apperr.Unavailable("otp", err)
		}
		if !ok {
			obs.OTPEvent("cooldown")
			return Challenge{}, apperr.RateLimited(apperr.CodeOTPCooldown, left)
		}
	}

	rec, code, err := s.challenger.Generate(phone, purpose)
	if err != nil {
		s.releaseCooldown(ctx, phone, purpose)
		return Challenge{}, err
	}
	ttl := s.challenger.TTL()
	if err := s.store.Save(ctx, rec, ttl); err != nil {
		obs.StoreError("otp", "save")
		s.releaseCooldown(ctx, phone, purpose)
		return Challenge{}, apperr.Unavailable("otp", err)
	}
	if err := s.sender.Send(ctx, phone, code, purpose, ttl); err != nil {
		_ = s.store.Delete(ctx, rec.RequestID)
		s.releaseCooldown(ctx, phone, purpose)
		obs.OTPEvent("send_failed")
		s.trail.Record(ctx, audit.CategoryAuthentication, "otp_request", actor, audit.OutcomeFailure, map[string]any{
			"purpose":    string(purpose),
			"request_id": rec.RequestID,
			"error":      err.Error(),
		})
		return Challenge{}, apperr.Wrap(apperr.CodeServiceUnavailable, "otp delivery failed", err)
	}

	obs.OTPEvent("issued")
	s.trail.Record(ctx, audit.CategoryAuthentication, "otp_request", actor, audit.OutcomeSuccess, map[string]any{
		"purpose":    string(purpose),
		"request_id": rec.RequestID,
	})
	return Challenge{RequestID: rec.RequestID, Purpose: purpose, ExpiresAt: rec.ExpiresAt(ttl)}, nil
}

func (s *Service) releaseCooldown(ctx context.Context, phone string, purpose Purpose) {
	if s.cooldown <= 0 {
		return
	}
	if err := s.store.ReleaseCooldown(ctx, phone, purpose); err != nil {
		obs.StoreError("otp", "release_cooldown")
		obs.Logger().WithError(err).WithField("phone", pii.MaskPhone(phone)).Warn("otp cooldown release failed")
	}
}

// Verify checks code for requestID and returns the consumed record.
func (s *Service) Verify(ctx context.Context, requestID, code string) (Record, error) {
	if requestID == "" {
		return Record{}, apperr.InvalidInput("request_id", "request id is required")
	}
	var verified Record
	err := s.store.Update(ctx, requestID, func(rec *Record) error {
		verified = *rec
		if err := s.challenger.Verify(code, rec); err != nil {
			return err
		}
		verified = *rec
		return nil
	})
	switch {
	case errors.Is(err, ErrNotFound):
		err = apperr.ErrOTPExpired
	case err != nil && apperr.CodeOf(err) == apperr.CodeInternal:
		obs.StoreError("otp", "update")
		err = apperr.Unavailable("otp", err)
	}

	actor := audit.Actor{Phone: verified.Phone}
	if err != nil {
		obs.OTPEvent(string(apperr.CodeOf(err)))
		s.trail.Record(ctx, audit.CategoryAuthentication, "otp_verify", actor, audit.OutcomeFailure, map[string]any{
			"request_id": requestID,
			"error_code": string(apperr.CodeOf(err)),
		})
		return Record{}, err
	}
	obs.OTPEvent("verified")
	s.trail.Record(ctx, audit.CategoryAuthentication, "otp_verify", actor, audit.OutcomeSuccess, map[string]any{
		"request_id": requestID,
		"purpose":    string(verified.Purpose),
	})
	return verified, nil
}
