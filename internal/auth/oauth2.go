// ABOUTME: OAuth2 authorization-code client with an explicit per-flow state machine
// ABOUTME: Builds provider redirects, consumes states, exchanges codes, and resolves external identity

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/2389/deskgate/internal/config"
)

// maxUserInfoBytes caps how much of a userinfo response is read.
const maxUserInfoBytes = 1 << 20

// FlowState is a step of the authorization-code flow.
type FlowState int

const (
	FlowInitiated FlowState = iota
	FlowAwaitingCallback
	FlowExchanged
	FlowIdentityResolved
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowInitiated:
		return "initiated"
	case FlowAwaitingCallback:
		return "awaiting_callback"
	case FlowExchanged:
		return "exchanged"
	case FlowIdentityResolved:
		return "identity_resolved"
	case FlowFailed:
		return "failed"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s FlowState) Terminal() bool {
	return s == FlowIdentityResolved || s == FlowFailed
}

// nextFlowState lists the forward edge for each non-terminal state. Any
// non-terminal state may also move to FlowFailed.
var nextFlowState = map[FlowState]FlowState{
	FlowInitiated:        FlowAwaitingCallback,
	FlowAwaitingCallback: FlowExchanged,
	FlowExchanged:        FlowIdentityResolved,
}

// Identity is the external identity resolved from the provider.
type Identity struct {
	// Subject is the provider's stable identifier. It becomes the external id.
	Subject  string
	// Provider is the configured provider the identity came from.
	Provider string
	Name     string
	Email    string
}

// Flow tracks one pass through the authorization-code flow.
type Flow struct {
	Provider string
	State    FlowState
	Exchange Exchange
	AuthURL  string
	Token    *oauth2.Token
	Identity Identity

	// Reason is set once State is FlowFailed.
	Reason error
}

func (f *Flow) advance(to FlowState) error {
	if next, ok := nextFlowState[f.State]; !ok || next != to {
		return fmt.Errorf("oauth2 flow: invalid transition %s -> %s", f.State, to)
	}
	f.State = to
	return nil
}

// fail moves the flow to FlowFailed and returns reason.
func (f *Flow) fail(reason error) error {
	if !f.State.Terminal() {
		f.State = FlowFailed
		f.Reason = reason
	}
	return reason
}

type oauthProvider struct {
	cfg  config.ProviderConfig
	conf *oauth2.Config
}

// OAuth2Client drives the authorization-code flow for the configured providers.
type OAuth2Client struct {
	providers  map[string]*oauthProvider
	names      []string
	exchanges  *ExchangeRegistry
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// OAuth2Option configures an OAuth2Client.
type OAuth2Option func(*OAuth2Client)

// WithHTTPClient sets the client used for token and userinfo calls.
func WithHTTPClient(c *http.Client) OAuth2Option {
	return func(o *OAuth2Client) { o.httpClient = c }
}

// WithExchangeTimeout bounds each callback's provider round trips.
func WithExchangeTimeout(d time.Duration) OAuth2Option {
	return func(o *OAuth2Client) { o.timeout = d }
}

// WithOAuth2Logger sets the logger.
func WithOAuth2Logger(l *slog.Logger) OAuth2Option {
	return func(o *OAuth2Client) { o.logger = l }
}

// NewOAuth2Client validates providers and builds a client. Invalid provider
// settings return ErrConfiguration.
func NewOAuth2Client(providers []config.ProviderConfig, exchanges *ExchangeRegistry, opts ...OAuth2Option) (*OAuth2Client, error) {
	c := &OAuth2Client{
		providers:  make(map[string]*oauthProvider, len(providers)),
		exchanges:  exchanges,
		httpClient: &http.Client{Timeout: config.DefaultExchangeTimeout},
		timeout:    config.DefaultExchangeTimeout,
		logger:     slog.Default().With("component", "oauth2"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg := config.ProvidersConfig{Providers: providers}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, p := range providers {
		c.providers[p.Name] = &oauthProvider{
			cfg: p,
			conf: &oauth2.Config{
				ClientID:     p.ClientID,
				ClientSecret: p.ClientSecret,
				Endpoint: oauth2.Endpoint{
					AuthURL:   p.AuthURL,
					TokenURL:  p.TokenURL,
					AuthStyle: authStyle(p.AuthStyle),
				},
				RedirectURL: p.RedirectURI,
				Scopes:      p.Scopes,
			},
		}
		c.names = append(c.names, p.Name)
	}

	return c, nil
}

// authStyle pins client authentication so a rejected code is never retried
// with the other style.
func authStyle(style string) oauth2.AuthStyle {
	if style == config.AuthStyleParams {
		return oauth2.AuthStyleInParams
	}
	return oauth2.AuthStyleInHeader
}

// Providers returns configured provider names in configuration order.
func (c *OAuth2Client) Providers() []string {
	return slices.Clone(c.names)
}

// Begin starts a flow for provider. An empty provider selects the first
// configured one.
func (c *OAuth2Client) Begin(provider string) (*Flow, error) {
	if provider == "" && len(c.names) > 0 {
		provider = c.names[0]
	}
	p, ok := c.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	flow := &Flow{Provider: provider, State: FlowInitiated}

	ex, err := c.exchanges.Create(provider, p.cfg.RedirectURI)
	if err != nil {
		return flow, flow.fail(err)
	}
	flow.Exchange = ex

	var opts []oauth2.AuthCodeOption
	if !p.cfg.DisablePKCE {
		opts = append(opts, oauth2.S256ChallengeOption(ex.CodeVerifier))
	}
	flow.AuthURL = p.conf.AuthCodeURL(ex.State, opts...)

	if err := flow.advance(FlowAwaitingCallback); err != nil {
		return flow, flow.fail(err)
	}
	return flow, nil
}

// Complete handles a provider callback: it consumes state, exchanges code at
// the token endpoint and resolves the external identity. The returned flow
// is always non-nil and records where it stopped.
func (c *OAuth2Client) Complete(ctx context.Context, code, state string) (*Flow, error) {
	flow := &Flow{State: FlowAwaitingCallback}

	ex, err := c.exchanges.Consume(state)
	if err != nil {
		return flow, flow.fail(err)
	}
	flow.Exchange = ex
	flow.Provider = ex.Provider

	p, ok := c.providers[ex.Provider]
	if !ok {
		return flow, flow.fail(fmt.Errorf("%w: %q", ErrUnknownProvider, ex.Provider))
	}

	if code == "" {
		return flow, flow.fail(fmt.Errorf("%w: missing authorization code", ErrOAuth2ExchangeFailed))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	var opts []oauth2.AuthCodeOption
	if !p.cfg.DisablePKCE {
		opts = append(opts, oauth2.VerifierOption(ex.CodeVerifier))
	}

	token, err := p.conf.Exchange(ctx, code, opts...)
	if err != nil {
		c.logger.Warn("oauth2 code exchange failed", "provider", ex.Provider, "error", err)
		return flow, flow.fail(fmt.Errorf("%w: token endpoint: %v", ErrOAuth2ExchangeFailed, err))
	}
	flow.Token = token
	if err := flow.advance(FlowExchanged); err != nil {
		return flow, flow.fail(err)
	}

	identity, err := c.resolveIdentity(ctx, p, token)
	if err != nil {
		c.logger.Warn("oauth2 identity resolution failed", "provider", ex.Provider, "error", err)
		return flow, flow.fail(err)
	}
	identity.Provider = ex.Provider
	flow.Identity = identity
	if err := flow.advance(FlowIdentityResolved); err != nil {
		return flow, flow.fail(err)
	}

	return flow, nil
}

// resolveIdentity prefers the id_token returned alongside the access token
// and falls back to the userinfo endpoint.
func (c *OAuth2Client) resolveIdentity(ctx context.Context, p *oauthProvider, token *oauth2.Token) (Identity, error) {
	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		return c.identityFromIDToken(p, raw)
	}
	if p.cfg.UserInfoURL != "" {
		return c.identityFromUserInfo(ctx, p, token)
	}
	return Identity{}, fmt.Errorf("%w: no id_token and no userinfo_url configured", ErrOAuth2ExchangeFailed)
}

type idTokenClaims struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	jwt.RegisteredClaims
}

// identityFromIDToken reads claims without checking the signature. The token
// came straight from the token endpoint over the server's own TLS
// connection, so only issuer, audience and expiry are checked.
func (c *OAuth2Client) identityFromIDToken(p *oauthProvider, raw string) (Identity, error) {
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Identity{}, fmt.Errorf("%w: decoding id_token: %v", ErrOAuth2ExchangeFailed, err)
	}

	if p.cfg.Issuer != "" && claims.Issuer != p.cfg.Issuer {
		return Identity{}, fmt.Errorf("%w: id_token issuer %q does not match", ErrOAuth2ExchangeFailed, claims.Issuer)
	}
	if len(claims.Audience) > 0 && !slices.Contains(claims.Audience, p.cfg.ClientID) {
		return Identity{}, fmt.Errorf("%w: id_token audience does not include client", ErrOAuth2ExchangeFailed)
	}
	if claims.ExpiresAt != nil && !c.now().Before(claims.ExpiresAt.Time) {
		return Identity{}, fmt.Errorf("%w: id_token expired", ErrOAuth2ExchangeFailed)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: id_token has no sub claim", ErrOAuth2ExchangeFailed)
	}

	name := claims.Name
	if name == "" {
		name = claims.PreferredUsername
	}
	return Identity{Subject: claims.Subject, Name: name, Email: claims.Email}, nil
}

func (c *OAuth2Client) identityFromUserInfo(ctx context.Context, p *oauthProvider, token *oauth2.Token) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.UserInfoURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: building userinfo request: %v", ErrOAuth2ExchangeFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: userinfo request: %v", ErrOAuth2ExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%w: userinfo returned status %d", ErrOAuth2ExchangeFailed, resp.StatusCode)
	}

	var info map[string]any
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes))
	dec.UseNumber()
	if err := dec.Decode(&info); err != nil {
		return Identity{}, fmt.Errorf("%w: decoding userinfo: %v", ErrOAuth2ExchangeFailed, err)
	}

	identity := Identity{
		Subject: firstClaim(info, "sub", "id", "login"),
		Name:    firstClaim(info, "name", "preferred_username", "login"),
		Email:   firstClaim(info, "email"),
	}
	if identity.Subject == "" {
		return Identity{}, fmt.Errorf("%w: userinfo has no subject", ErrOAuth2ExchangeFailed)
	}
	return identity, nil
}

// firstClaim returns the first non-empty string or number value among keys.
func firstClaim(info map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := info[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
