// ABOUTME: Environment variable overrides for deskgate configuration
// ABOUTME: Parses process flags like OAUTH2_CONFIG_FILE and OAUTH2_CREATE_USER

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Environment holds the settings that may come from the process environment.
type Environment struct {
	ConfigPath    string `env:"DESKGATE_CONFIG"`
	ProvidersFile string `env:"OAUTH2_CONFIG_FILE"`
	DatabasePath  string `env:"DESKGATE_DB_PATH"`

	// CreateUser enables provisioning on first OAuth2 login. Nil means unset.
	CreateUser *bool `env:"OAUTH2_CREATE_USER"`
}

// ParseEnvironment loads Environment from the process environment.
func ParseEnvironment() (Environment, error) {
	var e Environment
	if err := env.Parse(&e); err != nil {
		return Environment{}, fmt.Errorf("%w: parse env: %v", ErrConfiguration, err)
	}
	return e, nil
}

// Apply overlays set environment values onto cfg.
func (e Environment) Apply(cfg *Config) {
	if e.ProvidersFile != "" {
		cfg.OAuth2.ProvidersFile = e.ProvidersFile
	}
	if e.DatabasePath != "" {
		cfg.Database.Path = e.DatabasePath
	}
	if e.CreateUser != nil {
		cfg.Auth.AutoProvision = *e.CreateUser
	}
}
