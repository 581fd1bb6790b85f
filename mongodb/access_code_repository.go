package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AccessCodeRepository struct {
	tokens *mongo.Collection
}

var _ domain.AccessCodeRepository = (*AccessCodeRepository)(nil)

func NewAccessCodeRepository(db *mongo.Database) *AccessCodeRepository {
	return &AccessCodeRepository{
		tokens: db.Collection(AccessCodesCollection),
	}
}

func (r *AccessCodeRepository) SaveAccessCode(ctx context.Context, token *domain.AccessCode) error {
	if _, err := r.tokens.InsertOne(ctx, token); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("access code already exists: %w", domain.ErrDuplicateKey)
		}
		log.Error().Err(err).Str("client_id", token.ClientID).Msg("Error saving access code")
		return fmt.Errorf("failed to save access code: %w", err)
	}
	return nil
}

func (r *AccessCodeRepository) GetAccessCode(ctx context.Context, code string) (*domain.AccessCode, error) {
	var token domain.AccessCode
	if err := r.tokens.FindOne(ctx, bson.M{"_id": code}).Decode(&token); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrAccessCodeNotFound
		}
		log.Error().Err(err).Msg("Error retrieving access code")
		return nil, fmt.Errorf("failed to retrieve access code: %w", err)
	}
	return &token, nil
}

func (r *AccessCodeRepository) DeleteExpiredAccessCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.tokens.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired access codes: %w", err)
	}
	return res.DeletedCount, nil
}
