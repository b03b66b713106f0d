// ABOUTME: deskgate.v1.Sessions gRPC service for desk clients holding a session token
// ABOUTME: Uses protobuf well-known types so no generated code is needed

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/deskgate/internal/auth"
)

const (
	Sessions_CurrentUser_FullMethodName = "/deskgate.v1.Sessions/CurrentUser"
	Sessions_Logout_FullMethodName      = "/deskgate.v1.Sessions/Logout"
)

// SessionsServer is the server API for the deskgate.v1.Sessions service.
// Every method runs behind the auth interceptors.
type SessionsServer interface {
	// CurrentUser describes the caller's account and session.
	CurrentUser(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Logout revokes the caller's session token.
	Logout(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// sessionsServer implements SessionsServer on top of the authenticator.
type sessionsServer struct {
	auth   *auth.Authenticator
	logger *slog.Logger
}

func (s *sessionsServer) CurrentUser(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	principal := auth.FromContext(ctx)
	if principal == nil {
		return nil, status.Error(codes.Unauthenticated, "not authenticated")
	}

	reply, err := structpb.NewStruct(map[string]any{
		"name":       principal.User.Username,
		"email":      principal.User.Email,
		"group":      principal.User.Group,
		"is_admin":   principal.IsAdmin(),
		"expires_at": principal.Session.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("building current user reply", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	return reply, nil
}

func (s *sessionsServer) Logout(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	principal := auth.FromContext(ctx)
	if principal == nil {
		return nil, status.Error(codes.Unauthenticated, "not authenticated")
	}

	if err := s.auth.Logout(ctx, principal.Session.Token); err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		s.logger.Error("logout failed", "error", err)
		return nil, status.Error(codes.Internal, "internal error")
	}
	return &emptypb.Empty{}, nil
}

// RegisterSessionsServer registers srv on s.
func RegisterSessionsServer(s grpc.ServiceRegistrar, srv SessionsServer) {
	s.RegisterService(&sessionsServiceDesc, srv)
}

func _Sessions_CurrentUser_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionsServer).CurrentUser(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Sessions_CurrentUser_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionsServer).CurrentUser(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _Sessions_Logout_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionsServer).Logout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: Sessions_Logout_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionsServer).Logout(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var sessionsServiceDesc = grpc.ServiceDesc{
	ServiceName: "deskgate.v1.Sessions",
	HandlerType: (*SessionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CurrentUser",
			Handler:    _Sessions_CurrentUser_Handler,
		},
		{
			MethodName: "Logout",
			Handler:    _Sessions_Logout_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "deskgate/v1/sessions.proto",
}
