package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAuthorizationCodeNotFound     = errors.New("authorization code not found")
	ErrAccessCodeNotFound            = errors.New("access code not found")
	ErrAuthorizedApplicationNotFound = errors.New("authorized application not found")
	ErrDuplicateKey                  = errors.New("duplicate key")
)

// AuthorizationCodeRepository persists authorization codes.
type AuthorizationCodeRepository interface {
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	// GetAuthorizationCode finds a code issued to clientID.
	GetAuthorizationCode(ctx context.Context, clientID, code string) (*AuthorizationCode, error)
	// DeleteAuthorizationCode returns ErrAuthorizationCodeNotFound when no
	// row was removed, which is how a lost redemption race surfaces.
	DeleteAuthorizationCode(ctx context.Context, clientID, code string) error
	DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (int64, error)
}

// AccessCodeRepository persists bearer tokens.
type AccessCodeRepository interface {
	SaveAccessCode(ctx context.Context, token *AccessCode) error
	GetAccessCode(ctx context.Context, code string) (*AccessCode, error)
	DeleteExpiredAccessCodes(ctx context.Context, now time.Time) (int64, error)
}

// AuthorizedApplicationRepository persists consent records.
type AuthorizedApplicationRepository interface {
	GetAuthorizedApplication(ctx context.Context, userID, clientID string) (*AuthorizedApplication, error)
	// UpsertAuthorizedApplication replaces the record for (UserID, ClientID).
	UpsertAuthorizedApplication(ctx context.Context, app *AuthorizedApplication) error
	ListAuthorizedApplications(ctx context.Context, userID string) ([]*AuthorizedApplication, error)
	DeleteAuthorizedApplication(ctx context.Context, userID, clientID string) error
	DeleteAuthorizedApplicationsByUser(ctx context.Context, userID string) (int64, error)
}

// Transactor runs fn as one atomic unit. Repositories called with the
// context passed to fn take part in the transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
