// Package config handles configuration loading for deskgate.
//
// # Overview
//
// Service configuration is loaded from YAML with environment variable
// expansion. OAuth2 identity providers live in a separate TOML file so the
// secrets file can be managed independently.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. --config flag
//  2. Path from DESKGATE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/deskgate/config.yaml
//  4. ~/.config/deskgate/config.yaml
//
// # Environment Variable Expansion
//
// Values in either file can reference environment variables:
//
//	client_secret = "${GITHUB_CLIENT_SECRET}"
//
// # Duration Parsing
//
//	auth:
//	  token_lifetime: "24h"
//	  exchange_ttl: "10m"
//	  exchange_timeout: "10s"
//	  sweep_interval: "1m"
//
// # Providers File
//
// The providers file defaults to oauth2.toml and can be overridden with
// OAUTH2_CONFIG_FILE:
//
//	[[providers]]
//	name = "github"
//	client_id = "Iv1.abc"
//	client_secret = "${GITHUB_CLIENT_SECRET}"
//	auth_url = "https://github.com/login/oauth/authorize"
//	token_url = "https://github.com/login/oauth/access_token"
//	userinfo_url = "https://api.github.com/user"
//	scopes = ["read:user"]
//
// A missing providers file disables OAuth2 login.
//
// # Provisioning
//
// OAUTH2_CREATE_USER=true creates a local account the first time an
// external identity logs in. It overrides auth.auto_provision.
package config
