package mongodb

import (
	"context"
	"fmt"

	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/domain"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoRepositoryProvider hands out the repositories of one database and
// runs multi-document transactions across them.
type MongoRepositoryProvider struct {
	client *mongo.Client
	db     *mongo.Database

	clients  *ClientRepository
	codes    *AuthCodeRepository
	tokens   *AccessCodeRepository
	consents *AuthorizedAppRepository
}

var _ domain.Transactor = (*MongoRepositoryProvider)(nil)

// NewMongoRepositoryProvider creates a provider and makes sure the indexes
// exist.
func NewMongoRepositoryProvider(ctx context.Context, mc *mongo.Client, db *mongo.Database) (*MongoRepositoryProvider, error) {
	if err := EnsureIndexes(ctx, db); err != nil {
		return nil, err
	}

	p := &MongoRepositoryProvider{
		client:   mc,
		db:       db,
		codes:    NewAuthCodeRepository(db),
		tokens:   NewAccessCodeRepository(db),
		consents: NewAuthorizedAppRepository(db),
	}
	p.clients = NewClientRepository(db, p)
	return p, nil
}

func (p *MongoRepositoryProvider) ClientStore() client.ClientStore { return p.clients }

func (p *MongoRepositoryProvider) AuthorizationCodeRepository() domain.AuthorizationCodeRepository {
	return p.codes
}

func (p *MongoRepositoryProvider) AccessCodeRepository() domain.AccessCodeRepository { return p.tokens }

func (p *MongoRepositoryProvider) AuthorizedApplicationRepository() domain.AuthorizedApplicationRepository {
	return p.consents
}

// WithinTransaction implements domain.Transactor with a session
// transaction. Calls nested in a running transaction join it. fn may run
// more than once when the server reports a transient error.
func (p *MongoRepositoryProvider) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := p.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
