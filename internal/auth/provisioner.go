// ABOUTME: Resolves external identities to local users, creating them on first login
// ABOUTME: Creation is collapsed per external id and lost insert races re-read the winner

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/2389/deskgate/internal/store"
)

// provisionTimeout bounds one creation, independent of any caller's deadline.
const provisionTimeout = 10 * time.Second

// UserProvisioner maps an external identity to exactly one local user.
type UserProvisioner struct {
	users   store.CredentialStore
	hasher  PasswordHasher
	enabled bool
	group   string
	logger  *slog.Logger
	now     func() time.Time
	flights singleflight.Group
}

// NewUserProvisioner creates a provisioner. When enabled is false unknown
// identities are rejected with ErrProvisioningDisabled.
func NewUserProvisioner(users store.CredentialStore, hasher PasswordHasher, enabled bool, group string, logger *slog.Logger) *UserProvisioner {
	if group == "" {
		group = store.DefaultGroup
	}
	if logger == nil {
		logger = slog.Default().With("component", "provisioner")
	}
	return &UserProvisioner{
		users:   users,
		hasher:  hasher,
		enabled: enabled,
		group:   group,
		logger:  logger,
		now:     time.Now,
	}
}

// Enabled reports whether unknown identities are provisioned.
func (p *UserProvisioner) Enabled() bool {
	return p.enabled
}

// ResolveOrCreate returns the user whose external id is identity.Subject,
// creating it if provisioning is enabled and none exists. A match that was
// not provisioned from identity.Provider returns ErrIdentityConflict.
func (p *UserProvisioner) ResolveOrCreate(ctx context.Context, identity Identity) (*store.User, error) {
	externalID := identity.Subject
	if externalID == "" {
		return nil, fmt.Errorf("%w: empty external identity", ErrOAuth2ExchangeFailed)
	}
	if identity.Provider == "" {
		return nil, fmt.Errorf("%w: external identity has no provider", ErrOAuth2ExchangeFailed)
	}

	user, err := p.users.GetUserByExternalID(ctx, externalID)
	if err == nil {
		return p.bound(user, identity)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up external identity: %w", err)
	}

	if !p.enabled {
		p.logger.Info("rejected unknown external identity", "external_id", externalID)
		return nil, ErrProvisioningDisabled
	}

	v, err, _ := p.flights.Do(identity.Provider+"\x00"+externalID, func() (any, error) {
		// Waiters share this flight, so it must outlive the first caller
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), provisionTimeout)
		defer cancel()
		return p.create(fctx, identity)
	})
	if err != nil {
		return nil, err
	}

	// Callers sharing a flight get the same pointer
	result := *v.(*store.User)
	return &result, nil
}

// bound refuses to hand out an account provisioned from somewhere else.
// Local accounts have an empty provider and never match an external login.
func (p *UserProvisioner) bound(user *store.User, identity Identity) (*store.User, error) {
	if user.Provider != identity.Provider {
		p.logger.Warn("external identity matches an account it does not own",
			"external_id", identity.Subject,
			"provider", identity.Provider,
			"account_provider", user.Provider,
		)
		return nil, ErrIdentityConflict
	}
	return user, nil
}

func (p *UserProvisioner) create(ctx context.Context, identity Identity) (*store.User, error) {
	if _, err := p.users.GetGroup(ctx, p.group); err != nil {
		return nil, fmt.Errorf("provisioning group %q: %w", p.group, err)
	}

	password, err := GeneratePassword()
	if err != nil {
		return nil, err
	}
	hash, err := p.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &store.User{
		ID:           uuid.New().String(),
		ExternalID:   identity.Subject,
		Provider:     identity.Provider,
		Username:     identity.Subject,
		PasswordHash: hash,
		Email:        identity.Email,
		IsAdmin:      false,
		Group:        p.group,
		CreatedAt:    p.now().UTC(),
	}

	err = p.users.CreateUser(ctx, user)
	if errors.Is(err, store.ErrUserExists) {
		// Another process or an earlier flight won the insert
		existing, lookupErr := p.users.GetUserByExternalID(ctx, identity.Subject)
		if lookupErr != nil {
			return nil, fmt.Errorf("re-reading provisioned user: %w", errors.Join(err, lookupErr))
		}
		return p.bound(existing, identity)
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	p.logger.Info("provisioned user from external identity",
		"username", user.Username,
		"group", user.Group,
		"generated_password", password,
	)
	return user, nil
}
