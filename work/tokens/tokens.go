// Package tokens maps opaque identifiers onto upstream media URLs so clients
// never see where the bytes actually come from.
package tokens

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"ott-proxy/work/cache"
	"ott-proxy/work/logger"
	"ott-proxy/work/metrics"
)

// ErrTokenNotFound is returned for tokens that were never issued, were revoked
// or have expired. Callers cannot and should not tell these apart.
var ErrTokenNotFound = errors.New("token not found")

// Store is a write-once token to URL table. Entries expire ttl after issuance;
// a zero ttl keeps them for the life of the process.
type Store struct {
	entries  *cache.ExpiringMap[string]
	newToken func() string
}

// NewStore creates an empty store whose tokens live for ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		entries:  cache.NewExpiringMap[string](ttl),
		newToken: newToken,
	}
}

// WithClock replaces the time source of the underlying map. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.entries.WithClock(now)
	return s
}

// newToken renders a random (v4) UUID as 32 lowercase hex characters.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Issue stores targetURL under a fresh random token and returns the token.
func (s *Store) Issue(targetURL string) string {
	for {
		token := s.newToken()
		if s.entries.SetIfAbsent(token, targetURL) {
			metrics.TokensIssued.Inc()
			return token
		}
		// 122 random bits make this unreachable in practice
		logger.Warn("{tokens - Issue} Token collision on %s, drawing a new one", token)
	}
}

// Resolve returns the URL stored under token.
func (s *Store) Resolve(token string) (string, error) {
	if token == "" {
		return "", ErrTokenNotFound
	}
	targetURL, ok := s.entries.Get(token)
	if !ok {
		metrics.TokenMisses.Inc()
		return "", ErrTokenNotFound
	}
	return targetURL, nil
}

// Revoke removes token. Revoking an unknown token is a no-op.
func (s *Store) Revoke(token string) {
	s.entries.Delete(token)
}

// Len returns the number of stored tokens, including expired ones not yet swept.
func (s *Store) Len() int {
	return s.entries.Len()
}

// Sweep drops expired tokens and returns how many were removed.
func (s *Store) Sweep() int {
	return s.entries.Sweep()
}

// Submitter runs a task in the background. *ants.Pool satisfies it.
type Submitter interface {
	Submit(task func()) error
}

// StartJanitor sweeps expired tokens every interval until ctx is cancelled.
// Each sweep runs on pool so it shares the background worker budget.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration, pool Submitter) {
	if interval <= 0 || s.entries.TTL() <= 0 {
		logger.Debug("{tokens - StartJanitor} Janitor disabled (interval %s, ttl %s)", interval, s.entries.TTL())
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("{tokens - StartJanitor} Janitor stopped")
			return
		case <-ticker.C:
			err := pool.Submit(func() {
				if removed := s.Sweep(); removed > 0 {
					logger.Debug("{tokens - StartJanitor} Swept %d expired tokens, %d remain", removed, s.Len())
				}
			})
			if err != nil {
				logger.Warn("{tokens - StartJanitor} Failed to submit sweep: %v", err)
			}
		}
	}
}
