package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ClientRepository implements client.ClientStore.
type ClientRepository struct {
	db      *mongo.Database
	clients *mongo.Collection
	tx      domain.Transactor
}

var _ client.ClientStore = (*ClientRepository)(nil)

func NewClientRepository(db *mongo.Database, tx domain.Transactor) *ClientRepository {
	return &ClientRepository{
		db:      db,
		clients: db.Collection(ClientsCollection),
		tx:      tx,
	}
}

func (r *ClientRepository) CreateClient(ctx context.Context, c *client.Client) error {
	if _, err := r.clients.InsertOne(ctx, c); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("client %s already exists: %w", c.ID, domain.ErrDuplicateKey)
		}
		log.Error().Err(err).Str("client_id", c.ID).Msg("Error saving client")
		return fmt.Errorf("failed to save client: %w", err)
	}

	log.Debug().Str("client_id", c.ID).Msg("Client saved")
	return nil
}

func (r *ClientRepository) GetClient(ctx context.Context, clientID string) (*client.Client, error) {
	var c client.Client
	if err := r.clients.FindOne(ctx, bson.M{"_id": clientID}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, client.ErrClientNotFound
		}
		log.Error().Err(err).Str("client_id", clientID).Msg("Error retrieving client")
		return nil, fmt.Errorf("failed to retrieve client: %w", err)
	}
	return &c, nil
}

func (r *ClientRepository) ListClients(ctx context.Context, filter client.ClientFilter) ([]*client.Client, error) {
	query := bson.M{}
	if filter.OwnerID != "" {
		query["owner_id"] = filter.OwnerID
	}
	if filter.ProductionReadyOnly {
		query["production_ready"] = true
	}

	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.clients.Find(ctx, query, opts)
	if err != nil {
		log.Error().Err(err).Msg("Error listing clients")
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]*client.Client, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode clients: %w", err)
	}
	return out, nil
}

// UpdateClient sets the editable fields. The id, secret hash, owner and
// creation time are never written.
func (r *ClientRepository) UpdateClient(ctx context.Context, c *client.Client) error {
	update := bson.M{"$set": bson.M{
		"name":               c.Name,
		"main_url":           c.MainURL,
		"callback_url":       c.CallbackURL,
		"authorized_origins": c.AuthorizedOrigins,
		"production_ready":   c.ProductionReady,
		"image_url":          c.ImageURL,
		"description":        c.Description,
		"owner_email":        c.OwnerEmail,
		"updated_at":         c.UpdatedAt,
	}}

	res, err := r.clients.UpdateOne(ctx, bson.M{"_id": c.ID}, update)
	if err != nil {
		log.Error().Err(err).Str("client_id", c.ID).Msg("Error updating client")
		return fmt.Errorf("failed to update client: %w", err)
	}
	if res.MatchedCount == 0 {
		return client.ErrClientNotFound
	}

	log.Debug().Str("client_id", c.ID).Msg("Client updated")
	return nil
}

// DeleteClient removes the client and everything issued to it in one
// transaction.
func (r *ClientRepository) DeleteClient(ctx context.Context, clientID string) error {
	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		res, err := r.clients.DeleteOne(ctx, bson.M{"_id": clientID})
		if err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		if res.DeletedCount == 0 {
			return client.ErrClientNotFound
		}

		for _, name := range []string{
			AuthorizationCodesCollection,
			AccessCodesCollection,
			AuthorizedApplicationsCollection,
		} {
			if _, err := r.db.Collection(name).DeleteMany(ctx, bson.M{"client_id": clientID}); err != nil {
				return fmt.Errorf("failed to delete %s of client: %w", name, err)
			}
		}

		log.Info().Str("client_id", clientID).Msg("Client deleted")
		return nil
	})
}
