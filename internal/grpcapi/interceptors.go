package grpcapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"pulseops.app/internal/apperr"
	"pulseops.app/internal/auth"
	"pulseops.app/internal/obs"
)

func isPublic(fullMethod string, publicServices []string) bool {
	for _, svc := range publicServices {
		if strings.HasPrefix(fullMethod, "/"+svc+"/") {
			return true
		}
	}
	return false
}

func authenticate(ctx context.Context, tokens *auth.TokenService) (context.Context, error) {
	if tokens == nil {
		return nil, status.Error(codes.Unavailable, "token service is not configured")
	}
	md, _ := metadata.FromIncomingContext(ctx)
	var header string
	if vals := md.Get("authorization"); len(vals) > 0 {
		header = strings.TrimSpace(vals[0])
	}
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return nil, toStatus(apperr.InvalidToken("missing bearer token"))
	}
	token := strings.TrimSpace(header[7:])
	claims, err := tokens.Verify(ctx, token, auth.KindAccess)
	if err != nil {
		return nil, toStatus(err)
	}
	ctx = auth.ContextWithClaims(ctx, claims)
	return auth.ContextWithToken(ctx, token), nil
}

// UnaryAuth verifies the bearer access token carried in the authorization
// metadata of every call outside publicServices.
func UnaryAuth(tokens *auth.TokenService, publicServices ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublic(info.FullMethod, publicServices) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, tokens)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func StreamAuth(tokens *auth.TokenService, publicServices ...string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublic(info.FullMethod, publicServices) {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), tokens)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryLogging writes one line per call.
func UnaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.Logger().WithFields(logrus.Fields{
		"method":      info.FullMethod,
		"code":        status.Code(err).String(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("grpc_call")
	return resp, err
}

// toStatus converts an apperr failure into a gRPC status keeping the
// machine-readable code in the message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := apperr.CodeOf(err)
	var c codes.Code
	switch apperr.Status(code) {
	case http.StatusUnauthorized:
		c = codes.Unauthenticated
	case http.StatusForbidden:
		c = codes.PermissionDenied
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		c = codes.InvalidArgument
	case http.StatusTooManyRequests:
		c = codes.ResourceExhausted
	case http.StatusServiceUnavailable:
		c = codes.Unavailable
	default:
		c = codes.Internal
	}
	return status.Error(c, string(code))
}
