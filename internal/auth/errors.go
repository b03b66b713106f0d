// ABOUTME: Sentinel errors returned by the authentication core
// ABOUTME: Boundary layers classify these with errors.Is and map them to fixed responses

package auth

import (
	"errors"

	"github.com/2389/deskgate/internal/config"
)

var (
	// ErrInvalidCredentials is returned when a username/password pair does not match.
	// Unknown usernames also produce this error.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound is returned when a session refers to a user that no longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrOAuth2StateMismatch is returned when a callback state is unknown, expired or already used.
	ErrOAuth2StateMismatch = errors.New("oauth2 state mismatch")

	// ErrOAuth2ExchangeFailed covers token endpoint failures, timeouts, and unusable identity responses.
	ErrOAuth2ExchangeFailed = errors.New("oauth2 exchange failed")

	// ErrProvisioningDisabled is returned when an unknown external identity logs in
	// and automatic user creation is off.
	ErrProvisioningDisabled = errors.New("user provisioning disabled")

	// ErrIdentityConflict is returned when an external identity matches an
	// account that was created locally or by a different provider.
	ErrIdentityConflict = errors.New("account is bound to another login method")

	// ErrTokenExpired is returned for a known token presented at or after its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for tokens that were revoked or never issued.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrConfiguration is returned for malformed provider settings.
	ErrConfiguration = config.ErrConfiguration

	// ErrUnknownProvider is returned when a login names a provider that is not configured.
	ErrUnknownProvider = errors.New("unknown oauth2 provider")

	// ErrTooManyPendingFlows is returned when the pending OAuth2 flow limit is reached.
	ErrTooManyPendingFlows = errors.New("too many pending oauth2 flows")
)
