package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"pulseops.app/internal/audit"
	"pulseops.app/internal/auth"
	"pulseops.app/internal/config"
	"pulseops.app/internal/httpapi"
	"pulseops.app/internal/jobs"
	"pulseops.app/internal/obs"
	"pulseops.app/internal/otp"
	"pulseops.app/internal/pii"
	"pulseops.app/internal/ratelimit"
	"pulseops.app/internal/store/pg"
	"pulseops.app/internal/store/redisstore"
)

// backends holds the storage selected by configuration. Redis, when
// enabled, owns the shared ephemeral state; Postgres owns accounts and the
// durable audit trail; anything left unset falls back to process memory.
type backends struct {
	revocations auth.RevocationStore
	limiter     ratelimit.Limiter
	otpStore    otp.Store
	directory   auth.AccountStore
	sinks       []audit.Sink
	probes      []httpapi.Probe
	tasks       []jobs.Task
	closers     []func() error
}

func openBackends(ctx context.Context, cfg *config.Config, guard *pii.Guard) (*backends, error) {
	b := &backends{sinks: []audit.Sink{audit.LogSink{}}}
	log := obs.Logger()

	if cfg.Redis.Enabled {
		rs, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.KeyPrefix,
		})
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, rs.Close)
		b.probes = append(b.probes, httpapi.Probe{Name: "redis", Check: rs.Ping})
		b.revocations = rs.Revocations()
		b.limiter = rs.Limiter()
		b.otpStore = rs.OTP()
		log.WithField("addr", cfg.Redis.Addr).Info("redis_connected")
	}

	if cfg.Postgres.DSN != "" {
		ps, err := pg.Open(cfg.Postgres.DSN, guard)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, ps.Close)
		b.probes = append(b.probes, httpapi.Probe{Name: "postgres", Check: ps.Ping})
		b.directory = ps.Directory()
		if cfg.Security.AuditEnabled {
			b.sinks = append(b.sinks, ps.AuditSink())
		}
		if b.revocations == nil {
			b.revocations = ps.Revocations()
		}
		log.Info("postgres_connected")
	}

	if b.revocations == nil {
		b.revocations = auth.NewMemoryRevocationStore(nil)
	}
	b.tasks = append(b.tasks, jobs.Task{Name: "revocations", Run: b.revocations.SweepExpired})

	if b.limiter == nil {
		mem := ratelimit.NewMemory(nil)
		b.limiter = mem
		b.tasks = append(b.tasks, jobs.Task{Name: "rate_limit_windows", Run: func(context.Context) (int, error) {
			return mem.SweepIdle(ratelimit.OTPWindow), nil
		}})
	}
	if b.otpStore == nil {
		mem := otp.NewMemoryStore(nil)
		b.otpStore = mem
		b.tasks = append(b.tasks, jobs.Task{Name: "otp_records", Run: func(context.Context) (int, error) {
			return mem.Sweep(), nil
		}})
	}
	if b.directory == nil {
		log.Warn("no postgres dsn configured; using an empty in-memory account directory")
		b.directory = auth.NewMemoryDirectory()
	}
	return b, nil
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			obs.Logger().WithError(err).Warn("close_backend")
		}
	}
}

type services struct {
	tokens *auth.TokenService
	guard  *auth.Guard
	otp    *otp.Service
	trail  *audit.Trail
}

func buildServices(cfg *config.Config, b *backends) (*services, error) {
	trailOpts := []audit.Option{audit.WithSinks(b.sinks...)}
	if !cfg.Security.AuditEnabled {
		trailOpts = append(trailOpts, audit.Disabled())
	}
	trail := audit.New(trailOpts...)

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithRevocationStore(b.revocations),
		auth.WithDirectory(b.directory),
		auth.WithAuditTrail(trail),
	)
	if err != nil {
		return nil, err
	}

	ch, err := otp.NewChallenger(cfg.Auth.JWTSecret,
		otp.WithLength(cfg.OTP.Length),
		otp.WithTTL(cfg.OTP.TTL),
		otp.WithMaxAttempts(cfg.OTP.MaxAttempts),
		otp.WithLockout(cfg.OTP.LockoutPeriod),
	)
	if err != nil {
		return nil, err
	}
	otpSvc := otp.NewService(ch, b.otpStore, b.limiter,
		otp.WithHourlyLimit(cfg.OTP.HourlyLimit),
		otp.WithResendCooldown(cfg.OTP.ResendCooldown),
		otp.WithAuditTrail(trail),
	)

	obs.Logger().WithFields(logrus.Fields{
		"issuer":      cfg.Auth.Issuer,
		"access_ttl":  cfg.Auth.AccessTTL.String(),
		"refresh_ttl": cfg.Auth.RefreshTTL.String(),
		"otp_ttl":     cfg.OTP.TTL.String(),
	}).Info("auth_configured")

	return &services{
		tokens: tokens,
		guard:  auth.NewGuard(trail),
		otp:    otpSvc,
		trail:  trail,
	}, nil
}
