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

type AuthCodeRepository struct {
	authCodes *mongo.Collection
}

var _ domain.AuthorizationCodeRepository = (*AuthCodeRepository)(nil)

func NewAuthCodeRepository(db *mongo.Database) *AuthCodeRepository {
	return &AuthCodeRepository{
		authCodes: db.Collection(AuthorizationCodesCollection),
	}
}

func (r *AuthCodeRepository) SaveAuthorizationCode(ctx context.Context, code *domain.AuthorizationCode) error {
	if code.Code == "" {
		return errors.New("authorization code value cannot be empty")
	}

	if _, err := r.authCodes.InsertOne(ctx, code); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("authorization code already exists: %w", domain.ErrDuplicateKey)
		}
		log.Error().Err(err).Str("client_id", code.ClientID).Msg("Error saving authorization code")
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	log.Debug().Str("client_id", code.ClientID).Str("user_id", code.UserID).Msg("Authorization code saved")
	return nil
}

func (r *AuthCodeRepository) GetAuthorizationCode(ctx context.Context, clientID, code string) (*domain.AuthorizationCode, error) {
	var authCode domain.AuthorizationCode
	err := r.authCodes.FindOne(ctx, bson.M{"_id": code, "client_id": clientID}).Decode(&authCode)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrAuthorizationCodeNotFound
		}
		log.Error().Err(err).Str("client_id", clientID).Msg("Error retrieving authorization code")
		return nil, fmt.Errorf("failed to retrieve authorization code: %w", err)
	}
	return &authCode, nil
}

func (r *AuthCodeRepository) DeleteAuthorizationCode(ctx context.Context, clientID, code string) error {
	res, err := r.authCodes.DeleteOne(ctx, bson.M{"_id": code, "client_id": clientID})
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("Error deleting authorization code")
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrAuthorizationCodeNotFound
	}

	log.Debug().Str("client_id", clientID).Msg("Authorization code deleted")
	return nil
}

func (r *AuthCodeRepository) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.authCodes.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorization codes: %w", err)
	}
	return res.DeletedCount, nil
}
