package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/domain"
)

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *domain.AuthorizationCode) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO authorization_codes (code, client_id, user_id, scope, redirect_uri, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		code.Code, code.ClientID, code.UserID, nonNil(code.Scopes), code.RedirectURI, code.CreatedAt, code.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("authorization code already exists: %w", domain.ErrDuplicateKey)
		}
		log.Error().Err(err).Str("client_id", code.ClientID).Msg("Error saving authorization code")
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return nil
}

// GetAuthorizationCode locks the row when called inside a transaction so
// concurrent redemptions serialize on it.
func (s *Store) GetAuthorizationCode(ctx context.Context, clientID, code string) (*domain.AuthorizationCode, error) {
	query := `SELECT code, client_id, user_id, scope, redirect_uri, created_at, expires_at
		FROM authorization_codes WHERE code = $1 AND client_id = $2`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}

	var c domain.AuthorizationCode
	err := s.q(ctx).QueryRow(ctx, query, code, clientID).Scan(
		&c.Code, &c.ClientID, &c.UserID, &c.Scopes, &c.RedirectURI, &c.CreatedAt, &c.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("failed to retrieve authorization code: %w", err)
	}
	return &c, nil
}

func (s *Store) DeleteAuthorizationCode(ctx context.Context, clientID, code string) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM authorization_codes WHERE code = $1 AND client_id = $2`, code, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAuthorizationCodeNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM authorization_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorization codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
