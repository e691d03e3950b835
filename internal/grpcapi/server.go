package grpcapi

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"pulseops.app/internal/auth"
	"pulseops.app/internal/obs"
)

const serviceName = "pulseops.api"

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// Server hosts the gRPC surface: the standard health service behind the
// authentication and logging interceptors.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	probes []Probe
}

// New builds the server. Methods of the health service are public; every
// other method needs a valid access token.
func New(tokens *auth.TokenService, probes ...Probe) *Server {
	hs := health.NewServer()
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryLogging, UnaryAuth(tokens, healthpb.Health_ServiceDesc.ServiceName)),
		grpc.ChainStreamInterceptor(StreamAuth(tokens, healthpb.Health_ServiceDesc.ServiceName)),
	)
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return &Server{grpc: gs, health: hs, probes: probes}
}

// GRPC exposes the underlying server for additional registrations.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

func (s *Server) Serve(lis net.Listener) error {
	err := s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Shutdown marks the service NOT_SERVING and drains in-flight calls until ctx ends.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

// RefreshHealth runs every probe and publishes the aggregate serving status.
// It returns the number of failing probes.
func (s *Server) RefreshHealth(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var errs []error
	for _, p := range s.probes {
		if err := p(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	st := healthpb.HealthCheckResponse_SERVING
	if len(errs) > 0 {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		obs.Logger().WithError(errors.Join(errs...)).Warn("grpc_not_serving")
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
	return len(errs), nil
}
