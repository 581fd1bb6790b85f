package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuthorizedAppRepository stores consent records. A unique index on
// (user_id, client_id) keeps one record per pair.
type AuthorizedAppRepository struct {
	apps *mongo.Collection
}

var _ domain.AuthorizedApplicationRepository = (*AuthorizedAppRepository)(nil)

func NewAuthorizedAppRepository(db *mongo.Database) *AuthorizedAppRepository {
	return &AuthorizedAppRepository{
		apps: db.Collection(AuthorizedApplicationsCollection),
	}
}

func pairFilter(userID, clientID string) bson.M {
	return bson.M{"user_id": userID, "client_id": clientID}
}

func (r *AuthorizedAppRepository) GetAuthorizedApplication(ctx context.Context, userID, clientID string) (*domain.AuthorizedApplication, error) {
	var app domain.AuthorizedApplication
	if err := r.apps.FindOne(ctx, pairFilter(userID, clientID)).Decode(&app); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrAuthorizedApplicationNotFound
		}
		return nil, fmt.Errorf("failed to retrieve authorized application: %w", err)
	}
	return &app, nil
}

func (r *AuthorizedAppRepository) UpsertAuthorizedApplication(ctx context.Context, app *domain.AuthorizedApplication) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.apps.ReplaceOne(ctx, pairFilter(app.UserID, app.ClientID), app, opts); err != nil {
		log.Error().Err(err).Str("client_id", app.ClientID).Str("user_id", app.UserID).Msg("Error storing authorized application")
		return fmt.Errorf("failed to store authorized application: %w", err)
	}
	return nil
}

func (r *AuthorizedAppRepository) ListAuthorizedApplications(ctx context.Context, userID string) ([]*domain.AuthorizedApplication, error) {
	opts := options.Find().SetSort(bson.D{{Key: "client_id", Value: 1}})
	cursor, err := r.apps.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized applications: %w", err)
	}
	defer cursor.Close(ctx)

	out := make([]*domain.AuthorizedApplication, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode authorized applications: %w", err)
	}
	return out, nil
}

func (r *AuthorizedAppRepository) DeleteAuthorizedApplication(ctx context.Context, userID, clientID string) error {
	res, err := r.apps.DeleteOne(ctx, pairFilter(userID, clientID))
	if err != nil {
		return fmt.Errorf("failed to delete authorized application: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrAuthorizedApplicationNotFound
	}
	return nil
}

func (r *AuthorizedAppRepository) DeleteAuthorizedApplicationsByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.apps.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete authorized applications: %w", err)
	}
	return res.DeletedCount, nil
}
