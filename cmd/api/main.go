package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"pulseops.app/internal/config"
	"pulseops.app/internal/grpcapi"
	"pulseops.app/internal/httpapi"
	"pulseops.app/internal/jobs"
	"pulseops.app/internal/obs"
	"pulseops.app/internal/pii"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().WithError(err).Fatal("pulseops-api exited")
	}
}

func run() error {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := obs.SetLevel(cfg.Log.Level); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	guard, err := pii.NewGuard(cfg.Security.EncryptionKey,
		pii.WithEncryption(cfg.Security.EncryptionEnabled),
		pii.WithMasking(cfg.Security.PIIMaskingEnabled),
	)
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, guard)
	if err != nil {
		return err
	}
	defer b.close()

	svc, err := buildServices(cfg, b)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Deps{
		Tokens:    svc.tokens,
		Guard:     svc.guard,
		OTP:       svc.otp,
		Directory: b.directory,
		Trail:     svc.trail,
		Limiter:   b.limiter,
		PII:       guard,
		Probes:    b.probes,
	}, httpapi.Options{
		Version:           version,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
		RequestsPerMinute: cfg.HTTP.RequestsPerMin,
		Burst:             cfg.HTTP.Burst,
		CorrelationHeader: cfg.HTTP.CorrelationHdr,
		LoginPerHour:      cfg.Security.LoginPerHour,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	probes := make([]grpcapi.Probe, 0, len(b.probes))
	for _, p := range b.probes {
		probes = append(probes, p.Check)
	}
	gsrv := grpcapi.New(svc.tokens, probes...)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}

	tasks := append(b.tasks, jobs.Task{Name: "grpc_health", Run: gsrv.RefreshHealth})
	sweeper, err := jobs.NewSweeper(cfg.Sweep.Schedule, 0, tasks...)
	if err != nil {
		return err
	}
	sweeper.RunOnce()
	sweeper.Start()

	errCh := make(chan error, 2)
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("http_listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.WithField("addr", cfg.GRPC.Addr).Info("grpc_listening")
		if err := gsrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting_down")
	case err = <-errCh:
		log.WithError(err).Error("server_failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	sweeper.Stop(shutdownCtx)
	gsrv.Shutdown(shutdownCtx)
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("http_shutdown")
	}
	log.Info("stopped")
	return err
}
