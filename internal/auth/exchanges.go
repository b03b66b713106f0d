// ABOUTME: Registry of pending OAuth2 exchanges keyed by anti-forgery state
// ABOUTME: States are single-use: Consume deletes atomically, TTL sweep bounds abandoned flows

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// stateBytes is the entropy of each anti-forgery state value.
const stateBytes = 32

// Exchange is the transient record of an OAuth2 flow waiting for its callback.
type Exchange struct {
	State        string
	Provider     string
	RedirectURI  string
	CodeVerifier string
	CreatedAt    time.Time
}

// ExchangeRegistry holds pending exchanges.
type ExchangeRegistry struct {
	mu         sync.Mutex
	entries    map[string]Exchange
	ttl        time.Duration
	maxPending int
	now        func() time.Time
}

// NewExchangeRegistry creates a registry whose entries expire after ttl.
// maxPending caps outstanding flows; zero means no cap.
func NewExchangeRegistry(ttl time.Duration, maxPending int) *ExchangeRegistry {
	return &ExchangeRegistry{
		entries:    make(map[string]Exchange),
		ttl:        ttl,
		maxPending: maxPending,
		now:        time.Now,
	}
}

// Create registers a new exchange for provider with a fresh state and PKCE verifier.
func (r *ExchangeRegistry) Create(provider, redirectURI string) (Exchange, error) {
	state, err := generateState()
	if err != nil {
		return Exchange{}, err
	}

	ex := Exchange{
		State:        state,
		Provider:     provider,
		RedirectURI:  redirectURI,
		CodeVerifier: oauth2.GenerateVerifier(),
		CreatedAt:    r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPending > 0 && len(r.entries) >= r.maxPending {
		r.sweepLocked(r.now())
		if len(r.entries) >= r.maxPending {
			return Exchange{}, ErrTooManyPendingFlows
		}
	}

	r.entries[state] = ex
	return ex, nil
}

// Consume removes and returns the exchange for state. The first call wins;
// later calls, unknown states and expired entries return ErrOAuth2StateMismatch.
func (r *ExchangeRegistry) Consume(state string) (Exchange, error) {
	if state == "" {
		return Exchange{}, ErrOAuth2StateMismatch
	}

	r.mu.Lock()
	ex, ok := r.entries[state]
	if ok {
		delete(r.entries, state)
	}
	r.mu.Unlock()

	if !ok {
		return Exchange{}, ErrOAuth2StateMismatch
	}
	if r.expired(ex, r.now()) {
		return Exchange{}, fmt.Errorf("%w: state expired", ErrOAuth2StateMismatch)
	}
	return ex, nil
}

// Sweep removes expired exchanges and returns the number removed.
func (r *ExchangeRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(r.now())
}

// Len returns the number of pending exchanges.
func (r *ExchangeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// sweepLocked must be called with mu held.
func (r *ExchangeRegistry) sweepLocked(now time.Time) int {
	removed := 0
	for state, ex := range r.entries {
		if r.expired(ex, now) {
			delete(r.entries, state)
			removed++
		}
	}
	return removed
}

func (r *ExchangeRegistry) expired(ex Exchange, now time.Time) bool {
	return now.Sub(ex.CreatedAt) >= r.ttl
}

func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
