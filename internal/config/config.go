// ABOUTME: Configuration loading and parsing for deskgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a malformed or incomplete configuration. It is
// fatal at startup.
var ErrConfiguration = errors.New("configuration error")

// Defaults applied when the corresponding field is left empty.
const (
	DefaultTokenLifetime   = 24 * time.Hour
	DefaultExchangeTTL     = 10 * time.Minute
	DefaultExchangeTimeout = 10 * time.Second
	DefaultSweepInterval   = time.Minute
	DefaultMaxPendingFlows = 10000
	DefaultProvidersFile   = "oauth2.toml"
)

// Config represents the complete deskgate configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	OAuth2    OAuth2Config    `yaml:"oauth2"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	// PublicURL is the externally reachable base URL. Providers without an
	// explicit redirect_uri get PublicURL + "/api/oidc/callback".
	PublicURL string `yaml:"public_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session and provisioning settings
type AuthConfig struct {
	TokenLifetime   time.Duration `yaml:"-"`
	ExchangeTTL     time.Duration `yaml:"-"`
	ExchangeTimeout time.Duration `yaml:"-"`
	SweepInterval   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TokenLifetimeRaw   string `yaml:"token_lifetime"`
	ExchangeTTLRaw     string `yaml:"exchange_ttl"`
	ExchangeTimeoutRaw string `yaml:"exchange_timeout"`
	SweepIntervalRaw   string `yaml:"sweep_interval"`

	MaxPendingFlows int    `yaml:"max_pending_flows"`
	AutoProvision   bool   `yaml:"auto_provision"`
	DefaultGroup    string `yaml:"default_group"`
}

// OAuth2Config points at the provider definitions file
type OAuth2Config struct {
	ProvidersFile string `yaml:"providers_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %v", ErrConfiguration, err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing durations: %v", ErrConfiguration, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:  "127.0.0.1:21114",
			GRPCAddr:  "127.0.0.1:21115",
			PublicURL: "http://127.0.0.1:21114",
		},
		Database: DatabaseConfig{Path: "deskgate.db"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Auth.TokenLifetime == 0 {
		c.Auth.TokenLifetime = DefaultTokenLifetime
	}
	if c.Auth.ExchangeTTL == 0 {
		c.Auth.ExchangeTTL = DefaultExchangeTTL
	}
	if c.Auth.ExchangeTimeout == 0 {
		c.Auth.ExchangeTimeout = DefaultExchangeTimeout
	}
	if c.Auth.SweepInterval == 0 {
		c.Auth.SweepInterval = DefaultSweepInterval
	}
	if c.Auth.MaxPendingFlows == 0 {
		c.Auth.MaxPendingFlows = DefaultMaxPendingFlows
	}
	if c.Auth.DefaultGroup == "" {
		c.Auth.DefaultGroup = "Default"
	}
	if c.OAuth2.ProvidersFile == "" {
		c.OAuth2.ProvidersFile = DefaultProvidersFile
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("%w: server.http_addr is required (or enable tailscale)", ErrConfiguration)
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("%w: tailscale.hostname is required when tailscale is enabled", ErrConfiguration)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrConfiguration)
	}

	if c.Auth.TokenLifetime < 0 || c.Auth.ExchangeTTL < 0 || c.Auth.ExchangeTimeout < 0 || c.Auth.SweepInterval < 0 {
		return fmt.Errorf("%w: auth durations must be positive", ErrConfiguration)
	}

	if c.Auth.MaxPendingFlows < 0 {
		return fmt.Errorf("%w: auth.max_pending_flows must not be negative", ErrConfiguration)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json, got %q", ErrConfiguration, c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"token_lifetime", cfg.Auth.TokenLifetimeRaw, &cfg.Auth.TokenLifetime},
		{"exchange_ttl", cfg.Auth.ExchangeTTLRaw, &cfg.Auth.ExchangeTTL},
		{"exchange_timeout", cfg.Auth.ExchangeTimeoutRaw, &cfg.Auth.ExchangeTimeout},
		{"sweep_interval", cfg.Auth.SweepIntervalRaw, &cfg.Auth.SweepInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
