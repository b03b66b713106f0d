// ABOUTME: Opaque bearer token generation and session issuing
// ABOUTME: Tokens are 256 random bits, URL-safe, and registered in the TokenStore before return

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/2389/deskgate/internal/store"
)

// TokenBytes is the amount of randomness in every bearer token.
const TokenBytes = 32

// maxIssueAttempts bounds regeneration after a token collision.
const maxIssueAttempts = 3

// Session is the server-side record behind a bearer token.
type Session struct {
	Token     string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// IsAdmin is captured at issue time and not re-derived per request.
	IsAdmin bool
}

// ExpiredAt reports whether the session is expired at now.
func (s Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// GenerateToken returns TokenBytes of crypto/rand output, base64url without padding.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// TokenIssuer mints sessions for resolved users.
type TokenIssuer struct {
	sessions *TokenStore
	lifetime time.Duration
	now      func() time.Time
	generate func() (string, error)
}

// NewTokenIssuer creates an issuer that registers sessions in sessions.
func NewTokenIssuer(sessions *TokenStore, lifetime time.Duration) *TokenIssuer {
	return &TokenIssuer{
		sessions: sessions,
		lifetime: lifetime,
		now:      time.Now,
		generate: GenerateToken,
	}
}

// Issue creates a session for user and inserts it into the TokenStore.
func (i *TokenIssuer) Issue(user *store.User) (Session, error) {
	for range maxIssueAttempts {
		token, err := i.generate()
		if err != nil {
			return Session{}, err
		}

		now := i.now()
		session := Session{
			Token:     token,
			UserID:    user.ID,
			IssuedAt:  now,
			ExpiresAt: now.Add(i.lifetime),
			IsAdmin:   user.IsAdmin,
		}

		err = i.sessions.Insert(session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, errDuplicateToken) {
			return Session{}, err
		}
	}
	return Session{}, fmt.Errorf("issuing token: %w", errDuplicateToken)
}
