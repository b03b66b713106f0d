// ABOUTME: Concurrent in-memory TokenStore mapping bearer tokens to sessions
// ABOUTME: Sharded by token hash so validation on one token never waits on traffic for another

package auth

import (
	"errors"
	"hash/maphash"
	"sync"
	"time"
)

const sessionShards = 32

var errDuplicateToken = errors.New("duplicate token")

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// TokenStore is the single source of truth for token validity. Sessions are
// process-local: a restart invalidates every outstanding token.
//
// Every call takes the owning shard's lock, so an Insert or Revoke that has
// returned is visible to all later Validate calls.
type TokenStore struct {
	seed   maphash.Seed
	shards [sessionShards]*sessionShard
	now    func() time.Time
}

// NewTokenStore creates an empty TokenStore.
func NewTokenStore() *TokenStore {
	s := &TokenStore{
		seed: maphash.MakeSeed(),
		now:  time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &sessionShard{sessions: make(map[string]Session)}
	}
	return s
}

func (s *TokenStore) shard(token string) *sessionShard {
	return s.shards[maphash.String(s.seed, token)%sessionShards]
}

// Insert registers a session. A token already present is rejected.
func (s *TokenStore) Insert(session Session) error {
	if session.Token == "" {
		return ErrTokenInvalid
	}

	sh := s.shard(session.Token)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.sessions[session.Token]; exists {
		return errDuplicateToken
	}
	sh.sessions[session.Token] = session
	return nil
}

// Validate returns the session for token. Unknown and revoked tokens return
// ErrTokenInvalid; tokens at or past ExpiresAt return ErrTokenExpired until
// swept, after which they are unknown.
func (s *TokenStore) Validate(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrTokenInvalid
	}

	sh := s.shard(token)
	sh.mu.RLock()
	session, ok := sh.sessions[token]
	sh.mu.RUnlock()

	if !ok {
		return Session{}, ErrTokenInvalid
	}
	if session.ExpiredAt(s.now()) {
		return Session{}, ErrTokenExpired
	}
	return session, nil
}

// Revoke removes token. It reports whether the token was present.
func (s *TokenStore) Revoke(token string) bool {
	if token == "" {
		return false
	}

	sh := s.shard(token)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.sessions[token]; !ok {
		return false
	}
	delete(sh.sessions, token)
	return true
}

// RevokeUser removes every session belonging to userID and returns how many
// were removed.
func (s *TokenStore) RevokeUser(userID string) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for token, session := range sh.sessions {
			if session.UserID == userID {
				delete(sh.sessions, token)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// SweepExpired removes expired sessions one shard at a time and returns the
// number removed.
func (s *TokenStore) SweepExpired() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for token, session := range sh.sessions {
			if session.ExpiredAt(now) {
				delete(sh.sessions, token)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (s *TokenStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
