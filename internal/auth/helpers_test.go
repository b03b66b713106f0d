// ABOUTME: Shared test fixtures for the auth package
// ABOUTME: Provides a fake OAuth2 identity provider, a controllable clock, and log capture

package auth

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/deskgate/internal/config"
	"github.com/2389/deskgate/internal/store"
)

const testClientID = "deskgate-client"

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider is an httptest identity provider. Each authorization code
// maps to a subject; unknown codes use defaultSubject.
type fakeProvider struct {
	server *httptest.Server

	mu             sync.Mutex
	defaultSubject string
	subjects       map[string]string
	issuer         string
	omitIDToken    bool
	tokenStatus    int
	tokenDelay     time.Duration
	tokenCalls     int
	lastVerifier   string
	lastBasicAuth  bool
	lastFormClient string
	userInfoCalls  int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{
		defaultSubject: "rustdesk-42",
		subjects:       make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.handleToken)
	mux.HandleFunc("/userinfo", f.handleUserInfo)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	f.issuer = f.server.URL
	return f
}

func (f *fakeProvider) providerConfig(name string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:         name,
		ClientID:     testClientID,
		ClientSecret: "provider-secret",
		AuthURL:      f.server.URL + "/authorize",
		TokenURL:     f.server.URL + "/token",
		RedirectURI:  "https://desk.example.com/api/oidc/callback",
		Scopes:       []string{"openid", "email"},
		Issuer:       f.server.URL,
	}
}

func (f *fakeProvider) setSubject(code, subject string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects[code] = subject
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

func (f *fakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.tokenCalls++
	f.lastVerifier = r.PostForm.Get("code_verifier")
	_, _, f.lastBasicAuth = r.BasicAuth()
	f.lastFormClient = r.PostForm.Get("client_id")
	status := f.tokenStatus
	delay := f.tokenDelay
	omit := f.omitIDToken
	issuer := f.issuer
	code := r.PostForm.Get("code")
	subject, ok := f.subjects[code]
	if !ok {
		subject = f.defaultSubject
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}

	if r.PostForm.Get("grant_type") != "authorization_code" || code == "" {
		http.Error(w, `{"error":"unsupported_grant_type"}`, http.StatusBadRequest)
		return
	}

	resp := map[string]any{
		"access_token": "access-" + code,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if !omit {
		claims := jwt.MapClaims{
			"iss":   issuer,
			"sub":   subject,
			"aud":   testClientID,
			"exp":   time.Now().Add(time.Hour).Unix(),
			"email": subject + "@example.com",
			"name":  "Desk User",
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-signing-key"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp["id_token"] = signed
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (f *fakeProvider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.userInfoCalls++
	f.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer access-") {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"id": 583231, "login": "octocat", "email": "octocat@example.com"}`))
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

func newCaptureLogger() (*slog.Logger, *lockedBuffer) {
	buf := &lockedBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// fastHasher keeps bcrypt tests quick.
func fastHasher() *BcryptHasher {
	return &BcryptHasher{Cost: bcrypt.MinCost}
}

// addLocalUser stores a user with a bcrypt password.
func addLocalUser(t *testing.T, users store.CredentialStore, username, password string, admin bool) *store.User {
	t.Helper()
	hash, err := fastHasher().Hash(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	u := &store.User{
		ID:           "id-" + username,
		ExternalID:   username,
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      admin,
		Group:        store.DefaultGroup,
		CreatedAt:    time.Now().UTC(),
	}
	if err := users.CreateUser(t.Context(), u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return u
}

// addProvisionedUser stores an account as if provider had created it.
func addProvisionedUser(t *testing.T, users store.CredentialStore, externalID, provider string) *store.User {
	t.Helper()
	u := &store.User{
		ID:         "id-" + externalID,
		ExternalID: externalID,
		Provider:   provider,
		Username:   externalID,
		Group:      store.DefaultGroup,
		CreatedAt:  time.Now().UTC(),
	}
	if err := users.CreateUser(t.Context(), u); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return u
}

// stateFromURL pulls the state parameter out of an authorization URL.
func stateFromURL(t *testing.T, authURL string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, authURL, nil)
	state := req.URL.Query().Get("state")
	if state == "" {
		t.Fatalf("authorization URL has no state: %s", authURL)
	}
	return state
}
