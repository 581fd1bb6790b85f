package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryTokenStore implements TokenStore using ttlcache.
type MemoryTokenStore struct {
	cache  *ttlcache.Cache[string, *TokenEntry]
	maxTTL time.Duration
}

// NewMemoryTokenStore creates a new in-memory token store. Entries live until
// the token expires or maxTTL elapses, whichever comes first.
func NewMemoryTokenStore(maxTTL time.Duration) *MemoryTokenStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *TokenEntry](maxTTL),
		ttlcache.WithDisableTouchOnHit[string, *TokenEntry](),
	)

	// Start the cleanup process
	go cache.Start()

	return &MemoryTokenStore{
		cache:  cache,
		maxTTL: maxTTL,
	}
}

// Set implements TokenStore.Set.
func (s *MemoryTokenStore) Set(_ context.Context, entry *TokenEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if s.maxTTL > 0 && ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	copied := *entry
	s.cache.Set(entry.TokenHash, &copied, ttl)
	return nil
}

// Get implements TokenStore.Get.
func (s *MemoryTokenStore) Get(_ context.Context, token string) (*TokenEntry, error) {
	item := s.cache.Get(HashToken(token))
	if item == nil {
		return nil, ErrTokenNotFound
	}

	entry := *item.Value()
	return &entry, nil
}

// DeleteByClient implements TokenStore.DeleteByClient.
func (s *MemoryTokenStore) DeleteByClient(_ context.Context, clientID string) (int, error) {
	var n int
	for key, item := range s.cache.Items() {
		if item.Value().ClientID == clientID {
			s.cache.Delete(key)
			n++
		}
	}

	return n, nil
}

// DeleteExpired removes all expired tokens from the cache.
func (s *MemoryTokenStore) DeleteExpired(_ context.Context) error {
	s.cache.DeleteExpired()

	return nil
}

// Count counts the number of tokens in the cache.
func (s *MemoryTokenStore) Count(_ context.Context) int {
	return s.cache.Len()
}

// Close stops the cleanup goroutine.
func (s *MemoryTokenStore) Close() error {
	s.cache.Stop()

	return nil
}
