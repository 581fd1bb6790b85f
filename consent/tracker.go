// Package consent remembers which clients a user already approved so the
// consent screen is only shown once per (user, client).
package consent

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/domain"
)

// Tracker reads and writes consent records.
type Tracker struct {
	repo domain.AuthorizedApplicationRepository
	now  func() time.Time
}

// NewTracker creates a Tracker. A nil now defaults to time.Now.
func NewTracker(repo domain.AuthorizedApplicationRepository, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{repo: repo, now: now}
}

// IsAuthorized reports whether userID already granted clientID exactly these
// scopes for this redirect URI and response type. Lookup failures count as
// not authorized.
func (t *Tracker) IsAuthorized(
	ctx context.Context,
	userID, clientID string,
	scopes []string,
	redirectURI, responseType string,
) bool {
	app, err := t.repo.GetAuthorizedApplication(ctx, userID, clientID)
	if err != nil {
		if !errors.Is(err, domain.ErrAuthorizedApplicationNotFound) {
			log.Error().Err(err).Str("user_id", userID).Str("client_id", clientID).Msg("Failed to load consent")
		}
		return false
	}

	return app.Matches(scopes, redirectURI, responseType)
}

// Store records the decision, replacing any earlier one for the same
// (user, client) pair.
func (t *Tracker) Store(
	ctx context.Context,
	userID, clientID string,
	scopes []string,
	redirectURI, responseType string,
) error {
	return t.repo.UpsertAuthorizedApplication(ctx, &domain.AuthorizedApplication{
		UserID:       userID,
		ClientID:     clientID,
		Scopes:       domain.NormalizeScopes(scopes),
		RedirectURI:  redirectURI,
		ResponseType: responseType,
		UpdatedAt:    t.now().UTC(),
	})
}

// List returns the applications userID has authorized.
func (t *Tracker) List(ctx context.Context, userID string) ([]*domain.AuthorizedApplication, error) {
	return t.repo.ListAuthorizedApplications(ctx, userID)
}

// Revoke forgets the consent given to clientID. Tokens already issued stay
// valid until they expire.
func (t *Tracker) Revoke(ctx context.Context, userID, clientID string) error {
	return t.repo.DeleteAuthorizedApplication(ctx, userID, clientID)
}

// RevokeAll forgets every consent userID gave.
func (t *Tracker) RevokeAll(ctx context.Context, userID string) (int64, error) {
	return t.repo.DeleteAuthorizedApplicationsByUser(ctx, userID)
}
