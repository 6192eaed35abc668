// Package credentials resolves a usable access token for an account,
// caching results for a configurable TTL to avoid re-exchanging refresh
// tokens or re-validating API keys on every request.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaycc/cc-dispatch/internal/auth"
	"github.com/relaycc/cc-dispatch/internal/clock"
	"github.com/relaycc/cc-dispatch/internal/store"
	"github.com/relaycc/cc-dispatch/internal/utils"
)

// cached is one in-memory token cache entry.
type cached struct {
	token     string
	expiresAt time.Time
}

// Persister optionally backs the token cache with a durable store (e.g.
// Redis) so a restarted process doesn't immediately re-exchange every
// refresh token. It is best-effort: errors are logged, never returned.
type Persister interface {
	GetToken(ctx context.Context, email string) (token string, extractedAt time.Time, ok bool)
	SetToken(ctx context.Context, email, token string, ttl time.Duration)
}

// Store resolves and caches access tokens for accounts.
type Store struct {
	mu         sync.RWMutex
	clock      clock.Clock
	ttl        time.Duration
	cache      map[string]cached
	persister  Persister
}

// New builds a credentials Store with the given cache TTL. persister may be
// nil to run purely in-memory.
func New(c clock.Clock, ttl time.Duration, persister Persister) *Store {
	return &Store{
		clock:     c,
		ttl:       ttl,
		cache:     make(map[string]cached),
		persister: persister,
	}
}

// AccessToken returns a usable access token for acc, refreshing it if the
// cache has expired. Returns a typed *apierrors.AuthInvalidError or
// *apierrors.AuthNetworkError on failure (via auth.RefreshAccessToken).
func (s *Store) AccessToken(ctx context.Context, acc *store.Account) (string, error) {
	if acc == nil {
		return "", fmt.Errorf("account is nil")
	}

	now := s.clock.Now()

	s.mu.RLock()
	entry, ok := s.cache[acc.Email]
	s.mu.RUnlock()
	if ok && entry.expiresAt.After(now) {
		return entry.token, nil
	}

	if s.persister != nil {
		if token, extractedAt, ok := s.persister.GetToken(ctx, acc.Email); ok && token != "" {
			if now.Sub(extractedAt) < s.ttl {
				s.put(acc.Email, token, now)
				return token, nil
			}
		}
	}

	token, err := s.fresh(ctx, acc)
	if err != nil {
		return "", err
	}

	s.put(acc.Email, token, now)
	if s.persister != nil {
		s.persister.SetToken(ctx, acc.Email, token, s.ttl)
	}
	return token, nil
}

func (s *Store) put(email, token string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[email] = cached{token: token, expiresAt: now.Add(s.ttl)}
}

func (s *Store) fresh(ctx context.Context, acc *store.Account) (string, error) {
	switch acc.Source {
	case store.SourceOAuth:
		utils.Debug("[Credentials] refreshing OAuth token for %s", acc.Email)
		result, err := auth.RefreshAccessToken(ctx, acc.Email, acc.RefreshToken)
		if err != nil {
			utils.Error("[Credentials] refresh failed for %s: %v", acc.Email, err)
			return "", err
		}
		utils.Success("[Credentials] refreshed OAuth token for %s", acc.Email)
		return result.AccessToken, nil

	case store.SourceManual:
		if acc.APIKey == "" {
			return "", fmt.Errorf("no API key configured for manual account %s", acc.Email)
		}
		return acc.APIKey, nil

	case store.SourceLegacyDB:
		status, err := store.ReadLegacyAuthStatus(acc.DBPath)
		if err != nil {
			return "", fmt.Errorf("legacy-db account %s: %w", acc.Email, err)
		}
		return status.APIKey, nil

	default:
		return "", fmt.Errorf("unknown account source %q for %s", acc.Source, acc.Email)
	}
}

// Invalidate drops the cached token for email, forcing the next call to
// re-derive it.
func (s *Store) Invalidate(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, email)
}
