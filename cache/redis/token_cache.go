package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/cache"
)

// TokenStore implements cache.TokenStore on top of Redis hashes.
type TokenStore struct {
	client redis.UniversalClient
	prefix string
	maxTTL time.Duration
}

var _ cache.TokenStore = (*TokenStore)(nil)

// NewTokenStore creates a new [TokenStore] instance
func NewTokenStore(client redis.UniversalClient, prefix string, maxTTL time.Duration) *TokenStore {
	return &TokenStore{
		client: client,
		prefix: prefix,
		maxTTL: maxTTL,
	}
}

func (r *TokenStore) key(tokenHash string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, tokenHash)
}

// Set stores the entry and lets Redis expire it with the token.
func (r *TokenStore) Set(ctx context.Context, entry *cache.TokenEntry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	if r.maxTTL > 0 && ttl > r.maxTTL {
		ttl = r.maxTTL
	}

	key := r.key(entry.TokenHash)
	fields := map[string]interface{}{
		"token_type": entry.TokenType,
		"client_id":  entry.ClientID,
		"user_id":    entry.UserID,
		"scope":      entry.Scope,
		"expires_at": toNanos(entry.ExpiresAt),
		"created_at": toNanos(entry.CreatedAt),
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set token in Redis: %w", err)
	}

	return nil
}

// Get retrieves a token entry from Redis
func (r *TokenStore) Get(ctx context.Context, token string) (*cache.TokenEntry, error) {
	tokenHash := cache.HashToken(token)

	res, err := r.client.HGetAll(ctx, r.key(tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get token from Redis: %w", err)
	}
	if len(res) == 0 {
		return nil, cache.ErrTokenNotFound
	}

	expiresAt, err := strconv.ParseInt(res["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed expires_at in Redis: %w", err)
	}
	createdAt, err := strconv.ParseInt(res["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed created_at in Redis: %w", err)
	}

	return &cache.TokenEntry{
		TokenHash: tokenHash,
		TokenType: res["token_type"],
		ClientID:  res["client_id"],
		UserID:    res["user_id"],
		Scope:     res["scope"],
		ExpiresAt: fromNanos(expiresAt),
		CreatedAt: fromNanos(createdAt),
	}, nil
}

// DeleteByClient removes every cached token issued to clientID.
func (r *TokenStore) DeleteByClient(ctx context.Context, clientID string) (int, error) {
	var n int
	err := r.scan(ctx, func(keys []string) error {
		for _, key := range keys {
			owner, err := r.client.HGet(ctx, key, "client_id").Result()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return err
			}
			if owner != clientID {
				continue
			}

			if err := r.client.Del(ctx, key).Err(); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("failed to evict client tokens from Redis: %w", err)
	}
	return n, nil
}

// DeleteExpired removes entries whose expires_at already passed. Redis key
// expiry normally gets there first.
func (r *TokenStore) DeleteExpired(ctx context.Context) error {
	now := time.Now()

	return r.scan(ctx, func(keys []string) error {
		for _, key := range keys {
			res, err := r.client.HGet(ctx, key, "expires_at").Result()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return err
			}

			expiresAt, err := strconv.ParseInt(res, 10, 64)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Dropping token cache entry with malformed expiry")
			} else if !fromNanos(expiresAt).Before(now) {
				continue
			}

			if err := r.client.Del(ctx, key).Err(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of tokens in Redis
func (r *TokenStore) Count(ctx context.Context) int {
	var count int
	err := r.scan(ctx, func(keys []string) error {
		count += len(keys)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Error counting cached tokens")
	}
	return count
}

func (r *TokenStore) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	pattern := r.key("*")

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan token keys: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Timestamps are kept in nanoseconds so that a cached token expires at the
// same instant as the stored one.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
