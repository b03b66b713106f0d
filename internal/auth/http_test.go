// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation failures, principal propagation, and admin gate

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/2389/deskgate/internal/store"
)

// stubAuthenticator implements TokenAuthenticator for middleware tests.
type stubAuthenticator struct {
	principal *Principal
	err       error
	gotToken  string
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	s.gotToken = token
	if s.err != nil {
		return nil, s.err
	}
	return s.principal, nil
}

func testPrincipal(admin bool) *Principal {
	return &Principal{
		User:    &store.User{ID: "user-123", Username: "alice", IsAdmin: admin},
		Session: Session{Token: "tok", UserID: "user-123", IsAdmin: admin},
	}
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body["error"]
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	stub := &stubAuthenticator{principal: testPrincipal(false)}
	middleware := HTTPAuthMiddleware(stub)

	var got *Principal
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/currentUser", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if stub.gotToken != "tok" {
		t.Errorf("expected token %q, got %q", "tok", stub.gotToken)
	}
	if got == nil || got.User.ID != "user-123" {
		t.Errorf("expected principal user-123 in context, got %+v", got)
	}
}

func TestHTTPAuthMiddleware_HeaderErrors(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", "missing authorization header"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty token", "Bearer   ", "empty token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAuthenticator{principal: testPrincipal(false)}
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})

			req := httptest.NewRequest(http.MethodGet, "/api/currentUser", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			HTTPAuthMiddleware(stub)(handler).ServeHTTP(rec, req)

			if called {
				t.Error("handler should not be called")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			if got := decodeErrorBody(t, rec); got != tt.want {
				t.Errorf("expected error %q, got %q", tt.want, got)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestHTTPAuthMiddleware_AuthenticateErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"expired", ErrTokenExpired, http.StatusUnauthorized, "token expired"},
		{"invalid", ErrTokenInvalid, http.StatusUnauthorized, "invalid token"},
		{"user gone", ErrUserNotFound, http.StatusUnauthorized, "user not found"},
		{"store down", errors.New("database is locked"), http.StatusInternalServerError, "authentication failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAuthenticator{err: tt.err}
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			})

			req := httptest.NewRequest(http.MethodGet, "/api/currentUser", nil)
			req.Header.Set("Authorization", "Bearer tok")
			rec := httptest.NewRecorder()
			HTTPAuthMiddleware(stub)(handler).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := decodeErrorBody(t, rec); got != tt.wantMsg {
				t.Errorf("expected error %q, got %q", tt.wantMsg, got)
			}
		})
	}
}

func TestRequireAdminHTTP(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name      string
		principal *Principal
		want      int
	}{
		{"no principal", nil, http.StatusUnauthorized},
		{"member", testPrincipal(false), http.StatusForbidden},
		{"admin", testPrincipal(true), http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			if tt.principal != nil {
				req = req.WithContext(WithPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			RequireAdminHTTP()(ok).ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	if got := BearerToken(req); got != "" {
		t.Errorf("expected empty token, got %q", got)
	}

	req.Header.Set("Authorization", "Bearer abc")
	if got := BearerToken(req); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
}
