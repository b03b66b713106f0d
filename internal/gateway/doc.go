// Package gateway orchestrates the deskgate server components.
//
// # Overview
//
// The gateway owns the SQLite credential store, the auth.Authenticator, an
// HTTP server for the desk client API and a gRPC server carrying the
// standard health service behind session-token interceptors.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/login - Username and password login
//   - GET /api/login-options - Configured OAuth2 providers ("oidc/NAME")
//   - POST /api/oidc/auth - Start an OAuth2 flow, returns {url, code}
//   - GET /api/oidc/start - Start an OAuth2 flow with a browser redirect
//   - GET /api/oidc/callback - Provider redirect target
//   - GET /api/oidc/auth-query - Poll for the outcome of a flow, once
//   - POST /api/logout - Revoke the presented token
//   - POST /api/currentUser - Describe the token's user
//   - GET /api/users, GET /api/stats - Admin only
//   - GET /health, GET /health/ready - Liveness and store readiness
//
// # Polling Login
//
// Desk clients cannot receive the provider redirect themselves:
//
//  1. Client calls POST /api/oidc/auth and opens url in a browser
//  2. Provider redirects the browser to /api/oidc/callback
//  3. The gateway completes the exchange and parks the reply under code
//  4. Client polls GET /api/oidc/auth-query?code=... and receives it once
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	err = gw.Run(ctx) // blocks; cancel() triggers graceful shutdown
//
// Run also drives the authenticator's expiry sweeper. Sessions live in
// memory only, so stopping the gateway logs every client out.
package gateway
