package grpc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/kolevas/tutoring-app/internal/auth"
	"github.com/kolevas/tutoring-app/internal/domain"
)

type tokenVerifier interface {
	Verify(token string) (domain.Requester, error)
}

// AuthInterceptor verifies the bearer token on every call to the booking
// service and stores the requester in the context. Other services, such as
// health checks, pass through untouched.
func AuthInterceptor(v tokenVerifier, log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc.auth"))
	prefix := "/" + serviceName + "/"

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
		token, err := auth.BearerToken(header)
		if err != nil {
			log.Warn("missing credentials", slog.String("method", info.FullMethod))
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		by, err := v.Verify(token)
		if err != nil {
			log.Warn("token rejected", slog.String("method", info.FullMethod), slog.Any("err", err))
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}

		return handler(auth.WithRequester(ctx, by), req)
	}
}

// RequestTimeoutInterceptor applies timeout to calls that arrive without a
// deadline.
func RequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}
