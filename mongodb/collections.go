package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ClientsCollection                = "clients"
	AuthorizationCodesCollection     = "authorization_codes"
	AccessCodesCollection            = "access_codes"
	AuthorizedApplicationsCollection = "authorized_applications"
)

// EnsureIndexes creates the indexes the repositories rely on. Expired codes
// and tokens are removed by TTL indexes; validation never depends on it.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		ClientsCollection: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}}},
			{Keys: bson.D{{Key: "production_ready", Value: 1}, {Key: "name", Value: 1}}},
		},
		AuthorizationCodesCollection: {
			{Keys: bson.D{{Key: "client_id", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		AccessCodesCollection: {
			{Keys: bson.D{{Key: "client_id", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		AuthorizedApplicationsCollection: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "client_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "client_id", Value: 1}}},
		},
	}

	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}

	log.Debug().Str("database", db.Name()).Msg("MongoDB indexes ensured")
	return nil
}

func isDuplicateKey(err error) bool {
	var writeException mongo.WriteException
	if errors.As(err, &writeException) {
		for _, writeError := range writeException.WriteErrors {
			if writeError.Code == 11000 || writeError.Code == 11001 {
				return true
			}
		}
	}
	return mongo.IsDuplicateKeyError(err)
}
