package services

import (
	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/domain"
)

// RepositoryProvider hands out the repositories of one storage backend and
// runs transactions spanning them.
type RepositoryProvider interface {
	domain.Transactor

	ClientStore() client.ClientStore
	AuthorizationCodeRepository() domain.AuthorizationCodeRepository
	AccessCodeRepository() domain.AccessCodeRepository
	AuthorizedApplicationRepository() domain.AuthorizedApplicationRepository
}

// Store is a backend that implements every repository on one type.
type Store interface {
	domain.Transactor
	client.ClientStore
	domain.AuthorizationCodeRepository
	domain.AccessCodeRepository
	domain.AuthorizedApplicationRepository
}

type storeProvider struct {
	Store
}

// NewStoreProvider adapts a single type store to RepositoryProvider.
func NewStoreProvider(s Store) RepositoryProvider {
	return storeProvider{Store: s}
}

func (p storeProvider) ClientStore() client.ClientStore { return p.Store }

func (p storeProvider) AuthorizationCodeRepository() domain.AuthorizationCodeRepository {
	return p.Store
}

func (p storeProvider) AccessCodeRepository() domain.AccessCodeRepository { return p.Store }

func (p storeProvider) AuthorizedApplicationRepository() domain.AuthorizedApplicationRepository {
	return p.Store
}
