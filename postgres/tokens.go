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

func (s *Store) SaveAccessCode(ctx context.Context, token *domain.AccessCode) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO access_codes (code, code_type, client_id, user_id, scope, refresh_code, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		token.Code, token.TokenType, token.ClientID, token.UserID, nonNil(token.Scopes),
		token.RefreshToken, token.CreatedAt, token.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("access code already exists: %w", domain.ErrDuplicateKey)
		}
		log.Error().Err(err).Str("client_id", token.ClientID).Msg("Error saving access code")
		return fmt.Errorf("failed to save access code: %w", err)
	}
	return nil
}

func (s *Store) GetAccessCode(ctx context.Context, code string) (*domain.AccessCode, error) {
	var t domain.AccessCode
	err := s.q(ctx).QueryRow(ctx,
		`SELECT code, code_type, client_id, user_id, scope, refresh_code, created_at, expires_at
		FROM access_codes WHERE code = $1`, code,
	).Scan(&t.Code, &t.TokenType, &t.ClientID, &t.UserID, &t.Scopes, &t.RefreshToken, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccessCodeNotFound
		}
		return nil, fmt.Errorf("failed to retrieve access code: %w", err)
	}
	return &t, nil
}

func (s *Store) DeleteExpiredAccessCodes(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM access_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired access codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
