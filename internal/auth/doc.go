// Package auth provides authentication and session management for deskgate.
//
// # Login Paths
//
//   - Local: username and password checked against a bcrypt hash.
//   - OAuth2: authorization-code flow against a configured identity
//     provider. The provider's subject identifier becomes the user's
//     external id and, for provisioned accounts, the username.
//
// Both paths end in TokenIssuer.Issue, which mints a 256-bit opaque token
// and registers the Session in the TokenStore.
//
// # Sessions
//
// Tokens carry no user data. Validity is presence in the TokenStore and
// now < ExpiresAt. The store is process-local; a restart logs everyone out.
//
//	login, err := authenticator.LoginLocal(ctx, "alice", password)
//	principal, err := authenticator.Authenticate(ctx, login.Session.Token)
//	err = authenticator.Logout(ctx, login.Session.Token)
//
// # OAuth2 Flow
//
// Each flow moves through Initiated, AwaitingCallback, Exchanged and
// IdentityResolved, or stops in Failed. The anti-forgery state is stored in
// the ExchangeRegistry and deleted on first use, so a replayed callback
// returns ErrOAuth2StateMismatch.
//
// # Provisioning
//
// With provisioning enabled, the first login of an unknown external identity
// creates a user in the default group with a random password. The password
// is written to the log once. Concurrent first logins yield one user.
//
// # Transports
//
// HTTPAuthMiddleware and the gRPC UnaryInterceptor/StreamInterceptor read
// "Authorization: Bearer <token>" and attach a Principal to the context:
//
//	principal := auth.FromContext(ctx)
//
// # Errors
//
// All failures are sentinel errors (ErrInvalidCredentials, ErrTokenExpired,
// ...). Nothing is retried.
package auth
