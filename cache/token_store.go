package cache

import (
	"context"
	"errors"
	"time"

	"github.com/srus/yith-library-server/domain"
)

// ErrTokenNotFound is returned by TokenStore.Get on a cache miss.
var ErrTokenNotFound = errors.New("token not found")

// TokenEntry represents a cached access code. The token value itself is only
// kept as its hash.
type TokenEntry struct {
	TokenHash string    `redis:"tokenHash"`
	TokenType string    `redis:"tokenType"`
	ClientID  string    `redis:"clientId"`
	UserID    string    `redis:"userId"`
	Scope     string    `redis:"scope"`
	ExpiresAt time.Time `redis:"expiresAt"`
	CreatedAt time.Time `redis:"createdAt"`
}

// NewTokenEntry builds the cache entry for an access code.
func NewTokenEntry(ac *domain.AccessCode) *TokenEntry {
	return &TokenEntry{
		TokenHash: HashToken(ac.Code),
		TokenType: ac.TokenType,
		ClientID:  ac.ClientID,
		UserID:    ac.UserID,
		Scope:     domain.JoinScopes(ac.Scopes),
		ExpiresAt: ac.ExpiresAt,
		CreatedAt: ac.CreatedAt,
	}
}

// AccessCode rebuilds the access code for token from the entry.
func (e *TokenEntry) AccessCode(token string) *domain.AccessCode {
	return &domain.AccessCode{
		Code:      token,
		TokenType: e.TokenType,
		ClientID:  e.ClientID,
		UserID:    e.UserID,
		Scopes:    domain.ParseScopes(e.Scope),
		ExpiresAt: e.ExpiresAt,
		CreatedAt: e.CreatedAt,
	}
}

// TokenStore caches validated access codes keyed by the hash of the token.
// DeleteByClient evicts every entry issued to a client and reports how many
// were dropped.
type TokenStore interface {
	Set(ctx context.Context, entry *TokenEntry) error
	Get(ctx context.Context, token string) (*TokenEntry, error)
	DeleteByClient(ctx context.Context, clientID string) (int, error)
	DeleteExpired(ctx context.Context) error
	Count(ctx context.Context) int
}
