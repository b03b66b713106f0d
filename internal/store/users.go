// ABOUTME: User and group persistence for the SQLite store
// ABOUTME: Maps unique and foreign key violations to the store's sentinel errors

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const userColumns = `id, external_id, provider, username, password_hash, email, is_admin, group_name, created_at`

// CreateUser inserts a new user. Collisions on username or external id
// return ErrUserExists; an unknown group returns ErrGroupNotFound.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var passwordHash sql.NullString
	if user.PasswordHash != "" {
		passwordHash = sql.NullString{String: user.PasswordHash, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.ExternalID,
		user.Provider,
		user.Username,
		passwordHash,
		user.Email,
		boolToInt(user.IsAdmin),
		user.Group,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUserExists
		}
		if isForeignKeyError(err) {
			return ErrGroupNotFound
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Info("created user", "id", user.ID, "username", user.Username)
	return nil
}

// GetUserByID retrieves a user by local ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// GetUserByExternalID retrieves a user by remote-access identity.
func (s *SQLiteStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID)
}

// DeleteUser removes a user by ID.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Info("deleted user", "id", id)
	return nil
}

// ListUsers returns all users ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	return users, nil
}

// GetGroup retrieves a group by name.
func (s *SQLiteStore) GetGroup(ctx context.Context, name string) (*Group, error) {
	var group Group
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT name, created_at FROM groups WHERE name = ?`, name,
	).Scan(&group.Name, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying group: %w", err)
	}

	group.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &group, nil
}

// CreateGroup inserts a new group.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *Group) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (name, created_at) VALUES (?, ?)`,
		group.Name, group.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrGroupExists
		}
		return fmt.Errorf("inserting group: %w", err)
	}

	s.logger.Info("created group", "name", group.Name)
	return nil
}

func (s *SQLiteStore) queryUser(ctx context.Context, query string, arg string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return user, err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var passwordHash sql.NullString
	var isAdmin int
	var createdAtStr string

	err := row.Scan(
		&user.ID,
		&user.ExternalID,
		&user.Provider,
		&user.Username,
		&passwordHash,
		&user.Email,
		&isAdmin,
		&user.Group,
		&createdAtStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	user.PasswordHash = passwordHash.String
	user.IsAdmin = isAdmin != 0
	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
