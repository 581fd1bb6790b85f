package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/domain"
)

const clientColumns = `id, client_secret_hash, name, main_url, callback_url, authorized_origins,
	production_ready, image_url, description, owner_id, owner_email, created_at, updated_at`

func scanClient(row pgx.Row) (*client.Client, error) {
	var c client.Client
	err := row.Scan(
		&c.ID, &c.SecretHash, &c.Name, &c.MainURL, &c.CallbackURL, &c.AuthorizedOrigins,
		&c.ProductionReady, &c.ImageURL, &c.Description, &c.OwnerID, &c.OwnerEmail, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, c *client.Client) error {
	_, err := s.q(ctx).Exec(ctx,
		`INSERT INTO clients (`+clientColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.SecretHash, c.Name, c.MainURL, c.CallbackURL, nonNil(c.AuthorizedOrigins),
		c.ProductionReady, c.ImageURL, c.Description, c.OwnerID, c.OwnerEmail, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("client %s already exists: %w", c.ID, domain.ErrDuplicateKey)
		}
		log.Error().Err(err).Str("client_id", c.ID).Msg("Error saving client")
		return fmt.Errorf("failed to save client: %w", err)
	}

	log.Debug().Str("client_id", c.ID).Msg("Client saved")
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*client.Client, error) {
	c, err := scanClient(s.q(ctx).QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, client.ErrClientNotFound
		}
		log.Error().Err(err).Str("client_id", clientID).Msg("Error retrieving client")
		return nil, fmt.Errorf("failed to retrieve client: %w", err)
	}
	return c, nil
}

func (s *Store) ListClients(ctx context.Context, filter client.ClientFilter) ([]*client.Client, error) {
	var (
		conds []string
		args  []any
	)
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conds = append(conds, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.ProductionReadyOnly {
		conds = append(conds, "production_ready")
	}

	query := `SELECT ` + clientColumns + ` FROM clients`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY name, id`

	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	out := make([]*client.Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// UpdateClient rewrites the editable columns. The id, secret hash, owner and
// creation time are never updated.
func (s *Store) UpdateClient(ctx context.Context, c *client.Client) error {
	tag, err := s.q(ctx).Exec(ctx,
		`UPDATE clients SET name = $2, main_url = $3, callback_url = $4, authorized_origins = $5,
			production_ready = $6, image_url = $7, description = $8, owner_email = $9, updated_at = $10
		WHERE id = $1`,
		c.ID, c.Name, c.MainURL, c.CallbackURL, nonNil(c.AuthorizedOrigins),
		c.ProductionReady, c.ImageURL, c.Description, c.OwnerEmail, c.UpdatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("client_id", c.ID).Msg("Error updating client")
		return fmt.Errorf("failed to update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return client.ErrClientNotFound
	}

	log.Debug().Str("client_id", c.ID).Msg("Client updated")
	return nil
}

// DeleteClient relies on ON DELETE CASCADE for codes, tokens and consent
// records.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	tag, err := s.q(ctx).Exec(ctx, `DELETE FROM clients WHERE id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return client.ErrClientNotFound
	}

	log.Info().Str("client_id", clientID).Msg("Client deleted")
	return nil
}
