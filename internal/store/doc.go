// Package store provides persistent storage for users and groups.
//
// # Architecture
//
// The auth core depends only on the CredentialStore interface:
//
//   - GetUserByID, GetUserByUsername, GetUserByExternalID: lookups
//   - CreateUser: insert with unique username and external id
//   - GetGroup, CreateGroup: group membership targets
//
// SQLiteStore is the production implementation. MockStore keeps the same
// uniqueness rules in memory for tests.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
//   - ErrNotFound: requested user does not exist
//   - ErrUserExists: username or external id already taken
//   - ErrGroupNotFound: referenced group does not exist
//
// ErrUserExists is the signal concurrent provisioners use to detect a lost
// insert race and re-read the winning row.
//
// # Migrations
//
// Column additions run automatically on store initialization and are
// idempotent.
package store
