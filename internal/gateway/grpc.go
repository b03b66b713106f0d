// ABOUTME: gRPC server construction with keepalive settings and session auth
// ABOUTME: Health checks stay reachable without a bearer token

package gateway

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/deskgate/internal/auth"
)

// publicMethods skip bearer authentication.
var publicMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

// newGRPCServer creates a gRPC server whose services all require a valid
// session token, except publicMethods.
func newGRPCServer(authenticator auth.TokenAuthenticator, logger *slog.Logger) *grpc.Server {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(authenticator, logger, publicMethods...)),
		grpc.ChainStreamInterceptor(auth.StreamInterceptor(authenticator, logger, publicMethods...)),
	)
	logger.Info("auth interceptors enabled (session tokens)")
	return server
}
