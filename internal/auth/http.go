// ABOUTME: HTTP middleware for bearer token authentication on API endpoints
// ABOUTME: Extracts the token from the Authorization header and adds the principal to context

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// TokenAuthenticator resolves a bearer token to a principal.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// BearerToken returns the bearer token in r, or "" if there is none.
func BearerToken(r *http.Request) string {
	token, _ := extractBearerToken(r.Header.Get("Authorization"))
	return token
}

// failureMessage maps an authentication error to a client-facing message.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "token expired"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid token"
	case errors.Is(err, ErrUserNotFound):
		return "user not found"
	default:
		return "authentication failed"
	}
}

// HTTPAuthMiddleware creates an HTTP middleware that validates bearer tokens.
// It adds the Principal to the request context using the same
// WithPrincipal/FromContext pattern as the gRPC interceptors.
func HTTPAuthMiddleware(authenticator TokenAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				status := http.StatusUnauthorized
				if !isAuthFailure(err) {
					status = http.StatusInternalServerError
				}
				writeAuthError(w, status, failureMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAdminHTTP creates an HTTP middleware that requires an admin session.
// Must be used after HTTPAuthMiddleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := FromContext(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			if !principal.IsAdmin() {
				writeAuthError(w, http.StatusForbidden, "admin required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isAuthFailure reports whether err is a client credential problem rather
// than an internal failure.
func isAuthFailure(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrUserNotFound)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="deskgate"`)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
