// ABOUTME: Authenticator coordinates local and OAuth2 login, token validation, and logout
// ABOUTME: Every entry point surfaces failures immediately as typed errors without retrying

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/deskgate/internal/config"
	"github.com/2389/deskgate/internal/store"
)

// Login is the result of a successful login.
type Login struct {
	Session Session
	User    *store.User
}

// OAuth2Start is what a client needs to send the browser to the provider.
type OAuth2Start struct {
	Provider string
	URL      string
	State    string
}

// Options configures an Authenticator.
type Options struct {
	Users  store.CredentialStore
	Hasher PasswordHasher

	// Providers may be empty, which disables OAuth2 login.
	Providers []config.ProviderConfig

	TokenLifetime   time.Duration
	ExchangeTTL     time.Duration
	ExchangeTimeout time.Duration
	SweepInterval   time.Duration
	MaxPendingFlows int

	AutoProvision bool
	DefaultGroup  string

	// HTTPClient is used for provider calls. Defaults to a client with
	// ExchangeTimeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OptionsFromConfig builds Options from loaded configuration.
func OptionsFromConfig(cfg *config.Config, providers *config.ProvidersConfig, users store.CredentialStore) Options {
	opts := Options{
		Users:           users,
		TokenLifetime:   cfg.Auth.TokenLifetime,
		ExchangeTTL:     cfg.Auth.ExchangeTTL,
		ExchangeTimeout: cfg.Auth.ExchangeTimeout,
		SweepInterval:   cfg.Auth.SweepInterval,
		MaxPendingFlows: cfg.Auth.MaxPendingFlows,
		AutoProvision:   cfg.Auth.AutoProvision,
		DefaultGroup:    cfg.Auth.DefaultGroup,
	}
	if providers != nil {
		opts.Providers = providers.Providers
	}
	return opts
}

// Authenticator is the entry point for all authentication operations.
type Authenticator struct {
	users         store.CredentialStore
	hasher        PasswordHasher
	sessions      *TokenStore
	issuer        *TokenIssuer
	exchanges     *ExchangeRegistry
	oauth         *OAuth2Client
	provisioner   *UserProvisioner
	sweepInterval time.Duration
	logger        *slog.Logger
}

// New creates an Authenticator. Invalid provider settings return ErrConfiguration.
func New(opts Options) (*Authenticator, error) {
	if opts.Users == nil {
		return nil, fmt.Errorf("%w: credential store is required", ErrConfiguration)
	}
	if opts.Hasher == nil {
		opts.Hasher = NewBcryptHasher()
	}
	if opts.TokenLifetime <= 0 {
		opts.TokenLifetime = config.DefaultTokenLifetime
	}
	if opts.ExchangeTTL <= 0 {
		opts.ExchangeTTL = config.DefaultExchangeTTL
	}
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = config.DefaultExchangeTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = config.DefaultSweepInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.ExchangeTimeout}
	}
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	logger := base.With("component", "auth")

	sessions := NewTokenStore()
	exchanges := NewExchangeRegistry(opts.ExchangeTTL, opts.MaxPendingFlows)

	a := &Authenticator{
		users:         opts.Users,
		hasher:        opts.Hasher,
		sessions:      sessions,
		issuer:        NewTokenIssuer(sessions, opts.TokenLifetime),
		exchanges:     exchanges,
		provisioner:   NewUserProvisioner(opts.Users, opts.Hasher, opts.AutoProvision, opts.DefaultGroup, base.With("component", "provisioner")),
		sweepInterval: opts.SweepInterval,
		logger:        logger,
	}

	if len(opts.Providers) > 0 {
		client, err := NewOAuth2Client(opts.Providers, exchanges,
			WithHTTPClient(opts.HTTPClient),
			WithExchangeTimeout(opts.ExchangeTimeout),
			WithOAuth2Logger(base.With("component", "oauth2")),
		)
		if err != nil {
			return nil, err
		}
		a.oauth = client
	}

	return a, nil
}

// Providers returns the configured OAuth2 provider names.
func (a *Authenticator) Providers() []string {
	if a.oauth == nil {
		return nil
	}
	return a.oauth.Providers()
}

// LoginLocal verifies a username and password and issues a session.
// Unknown users, empty passwords and mismatches all return ErrInvalidCredentials.
func (a *Authenticator) LoginLocal(ctx context.Context, username, password string) (*Login, error) {
	if username == "" || password == "" {
		burnPasswordCompare(password)
		return nil, ErrInvalidCredentials
	}

	user, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		burnPasswordCompare(password)
		a.logger.Debug("local login for unknown user")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if user.PasswordHash == "" {
		burnPasswordCompare(password)
		return nil, ErrInvalidCredentials
	}
	if !a.hasher.Verify(user.PasswordHash, password) {
		a.logger.Debug("local login password mismatch", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	return a.issue(user, "local")
}

// BeginOAuth2 starts an authorization-code flow. An empty provider selects
// the first configured provider.
func (a *Authenticator) BeginOAuth2(ctx context.Context, provider string) (*OAuth2Start, error) {
	if a.oauth == nil {
		return nil, fmt.Errorf("%w: oauth2 login is not configured", ErrUnknownProvider)
	}

	flow, err := a.oauth.Begin(provider)
	if err != nil {
		return nil, err
	}

	return &OAuth2Start{
		Provider: flow.Provider,
		URL:      flow.AuthURL,
		State:    flow.Exchange.State,
	}, nil
}

// CompleteOAuth2 handles the provider callback and issues a session for the
// resolved identity, provisioning a user if allowed.
func (a *Authenticator) CompleteOAuth2(ctx context.Context, code, state string) (*Login, error) {
	if a.oauth == nil {
		return nil, ErrOAuth2StateMismatch
	}

	flow, err := a.oauth.Complete(ctx, code, state)
	if err != nil {
		a.logger.Debug("oauth2 callback failed", "provider", flow.Provider, "flow_state", flow.State.String(), "error", err)
		return nil, err
	}

	user, err := a.provisioner.ResolveOrCreate(ctx, flow.Identity)
	if err != nil {
		return nil, err
	}

	return a.issue(user, "oauth2:"+flow.Provider)
}

// Authenticate validates token and returns the session and its user.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	session, err := a.sessions.Validate(token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetUserByID(ctx, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		a.sessions.Revoke(token)
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up session user: %w", err)
	}

	return &Principal{User: user, Session: session}, nil
}

// Logout revokes token. Unknown tokens return ErrTokenInvalid.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	if !a.sessions.Revoke(token) {
		return ErrTokenInvalid
	}
	a.logger.Debug("session revoked")
	return nil
}

// RevokeUser ends every session for userID.
func (a *Authenticator) RevokeUser(userID string) int {
	return a.sessions.RevokeUser(userID)
}

// Stats reports in-memory state sizes.
type Stats struct {
	Sessions     int
	PendingFlows int
}

// Stats returns current session and pending flow counts.
func (a *Authenticator) Stats() Stats {
	return Stats{
		Sessions:     a.sessions.Len(),
		PendingFlows: a.exchanges.Len(),
	}
}

// Sweep removes expired sessions and pending exchanges.
func (a *Authenticator) Sweep() (sessions, exchanges int) {
	return a.sessions.SweepExpired(), a.exchanges.Sweep()
}

// Run sweeps expired state every sweep interval until ctx is done.
func (a *Authenticator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s, e := a.Sweep(); s > 0 || e > 0 {
				a.logger.Debug("swept expired auth state", "sessions", s, "exchanges", e)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Authenticator) issue(user *store.User, method string) (*Login, error) {
	session, err := a.issuer.Issue(user)
	if err != nil {
		return nil, err
	}
	a.logger.Info("login succeeded", "user_id", user.ID, "username", user.Username, "method", method)
	return &Login{Session: session, User: user}, nil
}
