// Package validator holds the checkpoints the authorization and token
// endpoints consult while running an OAuth2 flow.
package validator

import (
	"context"
	"errors"

	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/domain"
)

// Response types and grant types known to the server.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"

	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// ErrNotSupported is returned by checkpoints of flows the server does not run.
var ErrNotSupported = errors.New("not supported")

// Request collects what the checkpoints learn about the request being
// processed. Checkpoints fill it in on success.
type Request struct {
	ClientID     string
	Client       *client.Client
	UserID       string
	Scopes       []string
	RedirectURI  string
	ResponseType string
	State        string
	AccessToken  *domain.AccessCode
}

// Credentials are the client credentials presented at the token endpoint.
// Authorization is the raw Authorization header.
type Credentials struct {
	Authorization string
	ClientID      string
	ClientSecret  string
}

// BearerToken is a freshly minted access token about to be persisted.
type BearerToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
}

// GrantValidator is the contract between the protocol endpoints and the
// storage backed policy. Lookups report failure with false or a zero value;
// only the mutating checkpoints return errors.
type GrantValidator interface {
	ValidateClientID(ctx context.Context, clientID string, req *Request) bool
	ValidateRedirectURI(ctx context.Context, clientID, redirectURI string, req *Request) bool
	GetDefaultRedirectURI(ctx context.Context, clientID string, req *Request) string
	ValidateScopes(ctx context.Context, clientID string, scopes []string, req *Request) bool
	GetDefaultScopes(ctx context.Context, clientID string, req *Request) []string
	ValidateResponseType(ctx context.Context, clientID, responseType string, req *Request) bool
	SaveAuthorizationCode(ctx context.Context, clientID, code string, req *Request) error

	AuthenticateClient(ctx context.Context, creds Credentials, req *Request) bool
	ValidateCode(ctx context.Context, clientID, code string, req *Request) bool
	ConfirmRedirectURI(ctx context.Context, clientID, code, redirectURI string, req *Request) bool
	ValidateGrantType(ctx context.Context, clientID, grantType string, req *Request) bool
	SaveBearerToken(ctx context.Context, token *BearerToken, req *Request) error
	InvalidateAuthorizationCode(ctx context.Context, clientID, code string, req *Request) error

	ValidateBearerToken(ctx context.Context, token string, scopes []string, req *Request) bool

	// GetOriginalScopes belongs to the refresh token grant and always
	// returns ErrNotSupported.
	GetOriginalScopes(ctx context.Context, refreshToken string, req *Request) ([]string, error)
}

// ClientRegistry is the part of client.ClientService the validator needs.
type ClientRegistry interface {
	GetClient(ctx context.Context, clientID string) (*client.Client, error)
	Authenticate(ctx context.Context, clientID, clientSecret string) (*client.Client, bool)
}
