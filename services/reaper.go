package services

import (
	"context"
	"fmt"
	"time"

	"github.com/srus/yith-library-server/cache"
	"github.com/srus/yith-library-server/domain"
	applog "github.com/srus/yith-library-server/log"
)

// ReapResult counts what one Reap call removed.
type ReapResult struct {
	AuthorizationCodes int64 `json:"authorization_codes"`
	AccessCodes        int64 `json:"access_codes"`
}

// Reaper deletes expired authorization codes and access codes, and drops
// expired entries from the token cache when there is one. It runs off the
// request path; validation checks expiry on its own.
type Reaper struct {
	codes      domain.AuthorizationCodeRepository
	tokens     domain.AccessCodeRepository
	tokenCache cache.TokenStore
	now        func() time.Time
	logger     applog.Logger
}

// NewReaper creates a Reaper. tokenCache may be nil.
func NewReaper(
	codes domain.AuthorizationCodeRepository,
	tokens domain.AccessCodeRepository,
	tokenCache cache.TokenStore,
	now func() time.Time,
	logger applog.Logger,
) *Reaper {
	if now == nil {
		now = time.Now
	}
	return &Reaper{codes: codes, tokens: tokens, tokenCache: tokenCache, now: now, logger: logger}
}

func (r *Reaper) Reap(ctx context.Context) (ReapResult, error) {
	var res ReapResult
	now := r.now()

	n, err := r.codes.DeleteExpiredAuthorizationCodes(ctx, now)
	if err != nil {
		return res, fmt.Errorf("reap authorization codes: %w", err)
	}
	res.AuthorizationCodes = n

	n, err = r.tokens.DeleteExpiredAccessCodes(ctx, now)
	if err != nil {
		return res, fmt.Errorf("reap access codes: %w", err)
	}
	res.AccessCodes = n

	if r.tokenCache != nil {
		if err := r.tokenCache.DeleteExpired(ctx); err != nil {
			return res, fmt.Errorf("reap token cache: %w", err)
		}
	}

	r.logger.Info(ctx, "Expired credentials reaped", applog.Fields{
		"authorization_codes": res.AuthorizationCodes,
		"access_codes":        res.AccessCodes,
	})
	return res, nil
}
