// ABOUTME: Mock CredentialStore implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the same uniqueness rules

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory CredentialStore implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	users      map[string]*User  // keyed by user ID
	byUsername map[string]string // username -> user ID
	byExternal map[string]string // external ID -> user ID
	groups     map[string]*Group // keyed by name

	// CreateHook, when set, runs before each CreateUser takes the lock.
	// Tests use it to widen race windows.
	CreateHook func()
}

// Ensure MockStore implements CredentialStore.
var _ CredentialStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore seeded with the default group.
func NewMockStore() *MockStore {
	return &MockStore{
		users:      make(map[string]*User),
		byUsername: make(map[string]string),
		byExternal: make(map[string]string),
		groups: map[string]*Group{
			DefaultGroup: {Name: DefaultGroup, CreatedAt: time.Now().UTC()},
		},
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	if m.CreateHook != nil {
		m.CreateHook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUsername[user.Username]; ok {
		return ErrUserExists
	}
	if _, ok := m.byExternal[user.ExternalID]; ok {
		return ErrUserExists
	}
	if _, ok := m.groups[user.Group]; !ok {
		return ErrGroupNotFound
	}

	// Make a copy to avoid external modification
	u := *user
	m.users[u.ID] = &u
	m.byUsername[u.Username] = u.ID
	m.byExternal[u.ExternalID] = u.ID

	return nil
}

// GetUserByID retrieves a user by ID.
func (m *MockStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.copyUser(id)
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyUser(id)
}

// GetUserByExternalID retrieves a user by external ID.
func (m *MockStore) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byExternal[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyUser(id)
}

// DeleteUser removes a user.
func (m *MockStore) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	delete(m.byUsername, u.Username)
	delete(m.byExternal, u.ExternalID)
	return nil
}

// ListUsers returns copies of all users ordered by username.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		userCopy := *u
		users = append(users, &userCopy)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// GetGroup retrieves a group by name.
func (m *MockStore) GetGroup(ctx context.Context, name string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[name]
	if !ok {
		return nil, ErrGroupNotFound
	}
	result := *g
	return &result, nil
}

// CreateGroup stores a new group.
func (m *MockStore) CreateGroup(ctx context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[group.Name]; ok {
		return ErrGroupExists
	}
	g := *group
	m.groups[g.Name] = &g
	return nil
}

// UserCount returns the number of stored users.
func (m *MockStore) UserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) copyUser(id string) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}
