// ABOUTME: Tests for MockStore behavior parity with SQLite
// ABOUTME: Verifies uniqueness, copy semantics, and group references

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_UniqueExternalID(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, testUser("u1", "rustdesk-42")))

	dup := testUser("u2", "rustdesk-42")
	dup.Username = "someone-else"
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrUserExists)
	assert.Equal(t, 1, s.UserCount())
}

func TestMockStore_UniqueUsername(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, testUser("u1", "alice")))

	dup := testUser("u2", "alice-2")
	dup.Username = "alice"
	assert.ErrorIs(t, s.CreateUser(ctx, dup), ErrUserExists)
}

func TestMockStore_UnknownGroup(t *testing.T) {
	s := NewMockStore()

	u := testUser("u1", "alice")
	u.Group = "missing"
	assert.ErrorIs(t, s.CreateUser(context.Background(), u), ErrGroupNotFound)
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, testUser("u1", "alice")))

	got, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	got.IsAdmin = true

	again, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, again.IsAdmin, "mutating a returned user must not affect the store")
}

func TestMockStore_DeleteUserFreesKeys(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, testUser("u1", "alice")))
	require.NoError(t, s.DeleteUser(ctx, "u1"))

	_, err := s.GetUserByExternalID(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.CreateUser(ctx, testUser("u2", "alice")))
}
