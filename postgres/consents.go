package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/domain"
)

const consentColumns = `user_id, client_id, scope, redirect_uri, response_type, updated_at`

func scanConsent(row pgx.Row) (*domain.AuthorizedApplication, error) {
	var a domain.AuthorizedApplication
	if err := row.Scan(&a.UserID, &a.ClientID, &a.Scopes, &a.RedirectURI, &a.ResponseType, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAuthorizedApplication(ctx context.Context, userID, clientID string) (*domain.AuthorizedApplication, error) {
	a, err := scanConsent(s.q(ctx).QueryRow(ctx,
		`SELECT `+consentColumns+` FROM authorized_applications WHERE user_id = $1 AND client_id = $2`,
		userID, clientID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAuthorizedApplicationNotFound
		}
		return nil, fmt.Errorf("failed to retrieve authorized application: %w", err)
	}
	return a, nil
}

func (s *Store) UpsertAuthorizedApplication(ctx context.Context, app *domain.AuthorizedApplication) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO authorized_applications (`+consentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, client_id) DO UPDATE SET
			scope = EXCLUDED.scope,
			redirect_uri = EXCLUDED.redirect_uri,
			response_type = EXCLUDED.response_type,
			updated_at = EXCLUDED.updated_at`,
		app.UserID, app.ClientID, nonNil(app.Scopes), app.RedirectURI, app.ResponseType, app.UpdatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("client_id", app.ClientID).Str("user_id", app.UserID).Msg("Error storing authorized application")
		return fmt.Errorf("failed to store authorized application: %w", err)
	}
	return nil
}

func (s *Store) ListAuthorizedApplications(ctx context.Context, userID string) ([]*domain.AuthorizedApplication, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+consentColumns+` FROM authorized_applications WHERE user_id = $1 ORDER BY client_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorized applications: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.AuthorizedApplication, 0)
	for rows.Next() {
		a, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan authorized application: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteAuthorizedApplication(ctx context.Context, userID, clientID string) error {
	tag, err := s.q(ctx).Exec(ctx,
		`DELETE FROM authorized_applications WHERE user_id = $1 AND client_id = $2`, userID, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete authorized application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAuthorizedApplicationNotFound
	}
	return nil
}

func (s *Store) DeleteAuthorizedApplicationsByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM authorized_applications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete authorized applications: %w", err)
	}
	return tag.RowsAffected(), nil
}
