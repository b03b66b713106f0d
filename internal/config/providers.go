// ABOUTME: OAuth2 identity provider definitions loaded from a TOML file
// ABOUTME: A missing file disables OAuth2; a malformed or incomplete one is a configuration error

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Token endpoint client authentication styles.
const (
	AuthStyleHeader = "header"
	AuthStyleParams = "params"
)

// CallbackPath is where identity providers send the browser back to.
const CallbackPath = "/api/oidc/callback"

// ProvidersConfig is the decoded providers file.
type ProvidersConfig struct {
	Providers []ProviderConfig `toml:"providers"`
}

// ProviderConfig describes a single OAuth2 identity provider.
type ProviderConfig struct {
	Name         string   `toml:"name"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	UserInfoURL  string   `toml:"userinfo_url"`
	RedirectURI  string   `toml:"redirect_uri"`
	Scopes       []string `toml:"scopes"`
	Issuer       string   `toml:"issuer"`

	// AuthStyle is how client credentials reach the token endpoint: "header"
	// (HTTP basic, the default) or "params" (form body).
	AuthStyle string `toml:"auth_style"`

	// DisablePKCE turns off the S256 code challenge for providers that reject it.
	DisablePKCE bool `toml:"disable_pkce"`
}

// LoadProviders reads provider definitions from path. A missing file returns
// an empty config and no error. publicURL fills in redirect_uri for
// providers that leave it blank.
func LoadProviders(path, publicURL string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &ProvidersConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading providers file: %w", err)
	}

	return ParseProviders(string(data), publicURL)
}

// ParseProviders decodes and validates provider definitions from TOML text.
func ParseProviders(data, publicURL string) (*ProvidersConfig, error) {
	var cfg ProvidersConfig
	if _, err := toml.Decode(expandEnvVars(data), &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing providers file: %v", ErrConfiguration, err)
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.RedirectURI == "" && publicURL != "" {
			p.RedirectURI = strings.TrimRight(publicURL, "/") + CallbackPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every provider and rejects duplicate names.
func (c *ProvidersConfig) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %d: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate provider name %q", ErrConfiguration, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Validate checks the fields required for the authorization-code flow.
func (p ProviderConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrConfiguration)
	}
	if p.ClientID == "" {
		return fmt.Errorf("%w: %s: client_id is required", ErrConfiguration, p.Name)
	}
	if p.ClientSecret == "" {
		return fmt.Errorf("%w: %s: client_secret is required", ErrConfiguration, p.Name)
	}

	switch p.AuthStyle {
	case "", AuthStyleHeader, AuthStyleParams:
	default:
		return fmt.Errorf("%w: %s: auth_style must be %q or %q", ErrConfiguration, p.Name, AuthStyleHeader, AuthStyleParams)
	}

	urls := []struct {
		field    string
		value    string
		required bool
	}{
		{"auth_url", p.AuthURL, true},
		{"token_url", p.TokenURL, true},
		{"redirect_uri", p.RedirectURI, true},
		{"userinfo_url", p.UserInfoURL, false},
	}
	for _, u := range urls {
		if u.value == "" {
			if u.required {
				return fmt.Errorf("%w: %s: %s is required", ErrConfiguration, p.Name, u.field)
			}
			continue
		}
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
			return fmt.Errorf("%w: %s: %s must be an absolute http(s) URL", ErrConfiguration, p.Name, u.field)
		}
	}

	return nil
}

// Names returns provider names in file order.
func (c *ProvidersConfig) Names() []string {
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, p.Name)
	}
	return names
}
