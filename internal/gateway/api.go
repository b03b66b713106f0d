// ABOUTME: HTTP API handlers for desk client login, OAuth2 callbacks, and logout
// ABOUTME: Maps authenticator errors to fixed status codes and JSON error bodies

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/deskgate/internal/auth"
	"github.com/2389/deskgate/internal/store"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// oidcOptionPrefix prefixes provider names in login options.
const oidcOptionPrefix = "oidc/"

// pollCodeHeader carries the poll code on /api/oidc/start redirects.
const pollCodeHeader = "X-Deskgate-Poll-Code"

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ID       string `json:"id,omitempty"`
	UUID     string `json:"uuid,omitempty"`
}

// UserPayload describes the logged-in user.
type UserPayload struct {
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	IsAdmin       bool   `json:"is_admin"`
	ThirdAuthType string `json:"third_auth_type,omitempty"`
}

// LoginReply is returned by POST /api/login and GET /api/oidc/auth-query.
type LoginReply struct {
	Type        string      `json:"type"`
	AccessToken string      `json:"access_token"`
	ExpiresAt   string      `json:"expires_at"`
	User        UserPayload `json:"user"`
}

// OIDCAuthRequest is the JSON request body for POST /api/oidc/auth.
type OIDCAuthRequest struct {
	Op   string `json:"op"`
	ID   string `json:"id,omitempty"`
	UUID string `json:"uuid,omitempty"`
}

// OIDCAuthResponse tells the client where to send the browser and which
// code to poll with. The code is unrelated to the state in the URL.
type OIDCAuthResponse struct {
	URL  string `json:"url"`
	Code string `json:"code"`
}

// CurrentUserResponse is the JSON response for POST /api/currentUser.
type CurrentUserResponse struct {
	Error bool        `json:"error"`
	Data  UserPayload `json:"data"`
}

// UserListEntry is one row of GET /api/users.
type UserListEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
	Group      string `json:"group"`
	IsAdmin    bool   `json:"is_admin"`
	CreatedAt  string `json:"created_at"`
}

// StatsResponse is the JSON response for GET /api/stats.
type StatsResponse struct {
	Sessions     int `json:"sessions"`
	PendingFlows int `json:"pending_flows"`
}

// oidcResult is a finished callback waiting for its poller.
type oidcResult struct {
	reply *LoginReply
	err   error
}

// pollBinding ties a pending flow's state to the poll code and the desk
// client that asked for it.
type pollBinding struct {
	code string
	id   string
	uuid string
}

// resultKey is where a finished login is parked. A poller must present the
// same code, id and uuid to collect it.
func resultKey(code, id, uuid string) string {
	return code + "\x00" + id + "\x00" + uuid
}

// bindPoll mints a poll code for a flow that was just started.
func (g *Gateway) bindPoll(state, id, uuid string) (string, error) {
	code, err := auth.GenerateToken()
	if err != nil {
		return "", err
	}
	g.polls.Put(state, pollBinding{code: code, id: id, uuid: uuid})
	return code, nil
}

// parkResult stores the callback outcome for the poller bound to state.
// Flows nobody is polling for are dropped.
func (g *Gateway) parkResult(state string, result oidcResult) {
	binding, ok := g.polls.Take(state)
	if !ok {
		return
	}
	g.results.Put(resultKey(binding.code, binding.id, binding.uuid), result)
}

// registerRoutes registers every HTTP endpoint on mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	authMiddleware := auth.HTTPAuthMiddleware(g.auth)
	adminMiddleware := auth.RequireAdminHTTP()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("/api/login", g.handleLogin)
	mux.HandleFunc("/api/login-options", g.handleLoginOptions)
	mux.HandleFunc("/api/oidc/auth", g.handleOIDCAuth)
	mux.HandleFunc("/api/oidc/start", g.handleOIDCStart)
	mux.HandleFunc("/api/oidc/callback", g.handleOIDCCallback)
	mux.HandleFunc("/api/oidc/auth-query", g.handleOIDCAuthQuery)

	mux.Handle("/api/logout", authMiddleware(http.HandlerFunc(g.handleLogout)))
	mux.Handle("/api/currentUser", authMiddleware(http.HandlerFunc(g.handleCurrentUser)))
	mux.Handle("/api/users", authMiddleware(adminMiddleware(http.HandlerFunc(g.handleListUsers))))
	mux.Handle("/api/stats", authMiddleware(adminMiddleware(http.HandlerFunc(g.handleStats))))
}

// authErrorStatus maps an authenticator error to a status and a fixed
// client-facing message. Unrecognized errors are internal.
func authErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, "token expired"
	case errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusUnauthorized, "user not found"
	case errors.Is(err, auth.ErrOAuth2StateMismatch):
		return http.StatusBadRequest, "invalid or expired login state"
	case errors.Is(err, auth.ErrOAuth2ExchangeFailed):
		return http.StatusBadGateway, "identity provider exchange failed"
	case errors.Is(err, auth.ErrProvisioningDisabled):
		return http.StatusForbidden, "user provisioning disabled"
	case errors.Is(err, auth.ErrIdentityConflict):
		return http.StatusConflict, "account is bound to another login method"
	case errors.Is(err, auth.ErrUnknownProvider):
		return http.StatusNotFound, "unknown login provider"
	case errors.Is(err, auth.ErrTooManyPendingFlows):
		return http.StatusServiceUnavailable, "too many pending logins"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// sendAuthError writes the mapped status for err, logging internal failures.
func (g *Gateway) sendAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := authErrorStatus(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	g.sendJSONError(w, status, message)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendJSON writes v with status 200.
func (g *Gateway) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// decodeJSON decodes a bounded request body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}

func newLoginReply(login *auth.Login, thirdAuthType string) *LoginReply {
	return &LoginReply{
		Type:        "access_token",
		AccessToken: login.Session.Token,
		ExpiresAt:   login.Session.ExpiresAt.UTC().Format(time.RFC3339),
		User: UserPayload{
			Name:          login.User.Username,
			Email:         login.User.Email,
			IsAdmin:       login.Session.IsAdmin,
			ThirdAuthType: thirdAuthType,
		},
	}
}

// handleLogin handles POST /api/login with a username and password.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	login, err := g.auth.LoginLocal(r.Context(), req.Username, req.Password)
	if err != nil {
		g.sendAuthError(w, r, err)
		return
	}

	g.sendJSON(w, newLoginReply(login, ""))
}

// handleLoginOptions handles GET /api/login-options, listing OAuth2 providers.
func (g *Gateway) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	names := g.auth.Providers()
	options := make([]string, 0, len(names))
	for _, name := range names {
		options = append(options, oidcOptionPrefix+name)
	}
	g.sendJSON(w, options)
}

// handleOIDCAuth handles POST /api/oidc/auth. The returned code, together
// with the request's id and uuid, is what the client polls auth-query with.
func (g *Gateway) handleOIDCAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req OIDCAuthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	start, err := g.auth.BeginOAuth2(r.Context(), strings.TrimPrefix(req.Op, oidcOptionPrefix))
	if err != nil {
		g.sendAuthError(w, r, err)
		return
	}

	code, err := g.bindPoll(start.State, req.ID, req.UUID)
	if err != nil {
		g.sendAuthError(w, r, err)
		return
	}

	g.sendJSON(w, OIDCAuthResponse{URL: start.URL, Code: code})
}

// handleOIDCStart handles GET /api/oidc/start?op=NAME&id=ID&uuid=UUID by
// redirecting the browser straight to the provider. The poll code is
// returned in a response header.
func (g *Gateway) handleOIDCStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	start, err := g.auth.BeginOAuth2(r.Context(), strings.TrimPrefix(q.Get("op"), oidcOptionPrefix))
	if err != nil {
		g.sendAuthError(w, r, err)
		return
	}

	code, err := g.bindPoll(start.State, q.Get("id"), q.Get("uuid"))
	if err != nil {
		g.sendAuthError(w, r, err)
		return
	}

	w.Header().Set(pollCodeHeader, code)
	http.Redirect(w, r, start.URL, http.StatusFound)
}

// handleOIDCCallback handles the provider redirect. The outcome is parked
// for the client bound to the state; the browser only sees a status page.
func (g *Gateway) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	state := q.Get("state")
	code := q.Get("code")
	if providerErr := q.Get("error"); providerErr != "" {
		g.logger.Info("provider returned an error to the callback", "error", providerErr)
		// Consume the state so the flow cannot be resumed
		code = ""
	}

	login, err := g.auth.CompleteOAuth2(r.Context(), code, state)
	if err != nil {
		// An unknown state has no poller to report to
		if !errors.Is(err, auth.ErrOAuth2StateMismatch) {
			g.parkResult(state, oidcResult{err: err})
		}
		status, message := authErrorStatus(err)
		if status == http.StatusInternalServerError {
			g.logger.Error("oauth2 callback failed", "error", err)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("Login failed: " + message + "\n"))
		return
	}

	g.parkResult(state, oidcResult{reply: newLoginReply(login, "oauth2")})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Login complete. You can return to your desk client.\n"))
}

// handleOIDCAuthQuery handles GET /api/oidc/auth-query?code=CODE&id=ID&uuid=UUID.
// It returns null until the callback has run, then the outcome exactly once.
// A mismatched id or uuid sees null.
func (g *Gateway) handleOIDCAuthQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		g.sendJSONError(w, http.StatusBadRequest, "code is required")
		return
	}

	result, ok := g.results.Take(resultKey(code, q.Get("id"), q.Get("uuid")))
	if !ok {
		g.sendJSON(w, nil)
		return
	}
	if result.err != nil {
		g.sendAuthError(w, r, result.err)
		return
	}
	g.sendJSON(w, result.reply)
}

// handleLogout handles POST /api/logout, revoking the presented token.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	principal := auth.MustFromContext(r.Context())
	if err := g.auth.Logout(r.Context(), principal.Session.Token); err != nil {
		g.sendAuthError(w, r, err)
		return
	}

	g.sendJSON(w, map[string]string{"data": ""})
}

// handleCurrentUser handles POST /api/currentUser.
func (g *Gateway) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	principal := auth.MustFromContext(r.Context())
	g.sendJSON(w, CurrentUserResponse{
		Data: UserPayload{
			Name:    principal.User.Username,
			Email:   principal.User.Email,
			IsAdmin: principal.IsAdmin(),
		},
	})
}

// handleListUsers handles GET /api/users for administrators.
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	users, err := g.store.ListUsers(r.Context())
	if err != nil {
		g.sendAuthError(w, r, err)
		return
	}

	g.sendJSON(w, userListEntries(users))
}

func userListEntries(users []*store.User) []UserListEntry {
	entries := make([]UserListEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, UserListEntry{
			ID:         u.ID,
			Name:       u.Username,
			ExternalID: u.ExternalID,
			Email:      u.Email,
			Group:      u.Group,
			IsAdmin:    u.IsAdmin,
			CreatedAt:  u.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return entries
}

// handleStats handles GET /api/stats for administrators.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats := g.auth.Stats()
	g.sendJSON(w, StatsResponse{Sessions: stats.Sessions, PendingFlows: stats.PendingFlows})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the credential store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
