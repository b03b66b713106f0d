// ABOUTME: CredentialStore interface and data types for deskgate persistence
// ABOUTME: Defines User and Group records plus the lookup/insert contract the auth core relies on

package store

import (
	"context"
	"errors"
	"time"
)

// DefaultGroup is the group every database starts with. Provisioned users land here.
const DefaultGroup = "Default"

// ErrNotFound is returned when a requested user does not exist
var ErrNotFound = errors.New("not found")

// ErrUserExists is returned when an insert collides with an existing
// username or external id.
var ErrUserExists = errors.New("user already exists")

// ErrGroupNotFound is returned when a user references a group that does not exist
var ErrGroupNotFound = errors.New("group not found")

// ErrGroupExists is returned when creating a group whose name is taken
var ErrGroupExists = errors.New("group already exists")

// User is an identity record. ExternalID is the remote-access protocol
// identity; for accounts sourced from an identity provider the Username
// equals the ExternalID. PasswordHash is empty for accounts that have never
// been given a local password. Provider names the identity provider the
// account was provisioned from and is empty for local accounts.
type User struct {
	ID           string
	ExternalID   string
	Provider     string
	Username     string
	PasswordHash string
	Email        string
	IsAdmin      bool
	Group        string
	CreatedAt    time.Time
}

// Group is a named collection of users.
type Group struct {
	Name      string
	CreatedAt time.Time
}

// CredentialStore persists users and groups. Implementations must enforce
// uniqueness of Username and ExternalID and report violations as
// ErrUserExists so concurrent inserters can detect that they lost the race.
type CredentialStore interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]*User, error)

	GetGroup(ctx context.Context, name string) (*Group, error)
	CreateGroup(ctx context.Context, group *Group) error

	Close() error
}
