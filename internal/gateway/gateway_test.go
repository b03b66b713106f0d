// ABOUTME: Tests for the Gateway orchestrator lifecycle and transports
// ABOUTME: Runs real listeners and an in-memory gRPC connection against a temporary store

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/deskgate/internal/config"
)

const testClientID = "deskgate-client"

// freeAddr reserves and releases a loopback port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// testConfig creates a minimal config for testing with available ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Server.GRPCAddr = freeAddr(t)
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Server.PublicURL = "https://desk.example.com"
	cfg.Database.Path = ":memory:"
	cfg.OAuth2.ProvidersFile = filepath.Join(t.TempDir(), "missing.toml")
	cfg.Auth.AutoProvision = true
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lockedBuffer is a goroutine-safe log sink.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeIDP is a minimal OAuth2 provider issuing id_tokens for subject.
type fakeIDP struct {
	server *httptest.Server

	mu          sync.Mutex
	subject     string
	tokenStatus int
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()
	f := &fakeIDP{subject: "rustdesk-42"}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.handleToken)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeIDP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("code") == "" {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	subject, tokenStatus := f.subject, f.tokenStatus
	f.mu.Unlock()

	if tokenStatus != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(tokenStatus)
		w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   f.server.URL,
		"sub":   subject,
		"aud":   testClientID,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"email": subject + "@example.com",
	}).SignedString([]byte("idp-signing-key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": "access-" + r.PostForm.Get("code"),
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idToken,
	})
}

// writeProvidersFile writes an oauth2.toml naming idp as provider "dex".
func writeProvidersFile(t *testing.T, idp *fakeIDP) string {
	t.Helper()
	content := `
[[providers]]
name = "dex"
client_id = "` + testClientID + `"
client_secret = "idp-secret"
auth_url = "` + idp.server.URL + `/authorize"
token_url = "` + idp.server.URL + `/token"
issuer = "` + idp.server.URL + `"
scopes = ["openid", "email"]
`
	path := filepath.Join(t.TempDir(), "oauth2.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing providers file: %v", err)
	}
	return path
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.Authenticator() == nil {
		t.Error("authenticator should not be nil")
	}
	if len(gw.Authenticator().Providers()) != 0 {
		t.Error("missing providers file should disable oauth2")
	}
}

func TestGatewayNew_InvalidProvidersFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "oauth2.toml")
	if err := os.WriteFile(path, []byte("[[providers]]\nname = \"dex\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg.OAuth2.ProvidersFile = path

	_, err := New(cfg, testLogger())
	if !errors.Is(err, config.ErrConfiguration) {
		t.Fatalf("New() error = %v, want ErrConfiguration", err)
	}
}

func TestGatewayNew_WithProviders(t *testing.T) {
	idp := newFakeIDP(t)
	cfg := testConfig(t)
	cfg.OAuth2.ProvidersFile = writeProvidersFile(t, idp)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if got := gw.Authenticator().Providers(); len(got) != 1 || got[0] != "dex" {
		t.Errorf("providers = %v, want [dex]", got)
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	// Give it time to start
	time.Sleep(100 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestGatewayRun_AddressInUse(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	cfg.Server.HTTPAddr = ln.Addr().String()

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if err := gw.Run(t.Context()); err == nil {
		t.Error("Run() should fail when the HTTP address is taken")
	}
}

// startGateway runs gw until the test ends.
func startGateway(t *testing.T, gw *Gateway) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = gw.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startGateway(t, gw)

	for _, path := range []string{"/health", "/health/ready"} {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + path)
		if err != nil {
			t.Fatalf("%s request failed: %v", path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestGRPCHealthIsPublic(t *testing.T) {
	cfg := testConfig(t)
	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startGateway(t, gw)

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check() without token failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}

// bufconnClient serves gw's gRPC server in memory and dials it.
func bufconnClient(t *testing.T, gw *Gateway) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gw.grpcServer.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func withBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func TestGRPCSessions(t *testing.T) {
	f := newAPIFixture(t)
	f.addUser(t, "alice", "wonderland", true)
	conn := bufconnClient(t, f.gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var user structpb.Struct
	err := conn.Invoke(ctx, Sessions_CurrentUser_FullMethodName, &emptypb.Empty{}, &user)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("CurrentUser without token = %v, want Unauthenticated", err)
	}

	err = conn.Invoke(withBearer(ctx, "not-a-session"), Sessions_CurrentUser_FullMethodName, &emptypb.Empty{}, &user)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("CurrentUser with unknown token = %v, want Unauthenticated", err)
	}

	login := f.login(t, "alice", "wonderland")
	authed := withBearer(ctx, login.AccessToken)

	if err := conn.Invoke(authed, Sessions_CurrentUser_FullMethodName, &emptypb.Empty{}, &user); err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	fields := user.GetFields()
	if got := fields["name"].GetStringValue(); got != "alice" {
		t.Errorf("name = %q, want alice", got)
	}
	if !fields["is_admin"].GetBoolValue() {
		t.Error("is_admin should be true")
	}
	if got := fields["expires_at"].GetStringValue(); got != login.ExpiresAt {
		t.Errorf("expires_at = %q, want %q", got, login.ExpiresAt)
	}

	if err := conn.Invoke(authed, Sessions_Logout_FullMethodName, &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	err = conn.Invoke(authed, Sessions_CurrentUser_FullMethodName, &emptypb.Empty{}, &user)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("CurrentUser after logout = %v, want Unauthenticated", err)
	}
	if n := f.gw.auth.Stats().Sessions; n != 0 {
		t.Errorf("sessions after logout = %d, want 0", n)
	}
}

func TestGRPCInterceptorPolicy(t *testing.T) {
	f := newAPIFixture(t)
	conn := bufconnClient(t, f.gw)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{}); err != nil {
		t.Errorf("health should be public, got %v", err)
	}

	err := conn.Invoke(ctx, Sessions_Logout_FullMethodName, &emptypb.Empty{}, &emptypb.Empty{})
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("Logout without token = %v, want Unauthenticated", err)
	}

	for _, method := range publicMethods {
		if method == Sessions_CurrentUser_FullMethodName || method == Sessions_Logout_FullMethodName {
			t.Errorf("%s must not be public", method)
		}
	}
}
