// ABOUTME: gRPC interceptors for authenticating requests with bearer session tokens
// ABOUTME: Extracts the token from metadata and populates context for handlers

package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, method, reason string) {
	if logger == nil {
		return
	}
	attrs := []any{"reason", reason, "method", method}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("auth failure", attrs...)
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
// Methods listed in public skip authentication.
func UnaryInterceptor(authenticator TokenAuthenticator, logger *slog.Logger, public ...string) grpc.UnaryServerInterceptor {
	skip := methodSet(public)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if skip[info.FullMethod] {
			return handler(ctx, req)
		}

		principal, err := extractAuth(ctx, authenticator, logger, info.FullMethod)
		if err != nil {
			return nil, err
		}

		return handler(WithPrincipal(ctx, principal), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates requests.
// Methods listed in public skip authentication.
func StreamInterceptor(authenticator TokenAuthenticator, logger *slog.Logger, public ...string) grpc.StreamServerInterceptor {
	skip := methodSet(public)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if skip[info.FullMethod] {
			return handler(srv, ss)
		}

		principal, err := extractAuth(ss.Context(), authenticator, logger, info.FullMethod)
		if err != nil {
			return err
		}

		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithPrincipal(ss.Context(), principal),
		}
		return handler(srv, wrapped)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}

// extractAuth reads the authorization metadata and validates the token.
func extractAuth(ctx context.Context, authenticator TokenAuthenticator, logger *slog.Logger, method string) (*Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		logAuthFailure(logger, ctx, method, "missing metadata")
		return nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	values := md.Get("authorization")
	if len(values) == 0 {
		logAuthFailure(logger, ctx, method, "missing authorization header")
		return nil, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	token, errMsg := extractBearerToken(values[0])
	if errMsg != "" {
		logAuthFailure(logger, ctx, method, errMsg)
		return nil, status.Error(codes.Unauthenticated, errMsg)
	}

	principal, err := authenticator.Authenticate(ctx, token)
	if err != nil {
		msg := failureMessage(err)
		logAuthFailure(logger, ctx, method, msg)
		if !isAuthFailure(err) {
			return nil, status.Error(codes.Internal, msg)
		}
		return nil, status.Error(codes.Unauthenticated, msg)
	}

	return principal, nil
}

func methodSet(methods []string) map[string]bool {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return set
}
