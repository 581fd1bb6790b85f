package services

import (
	"context"
	"errors"
	"time"

	"github.com/srus/yith-library-server/domain"
	serrors "github.com/srus/yith-library-server/errors"
	"github.com/srus/yith-library-server/internal/crypto"
	"github.com/srus/yith-library-server/internal/metrics"
	applog "github.com/srus/yith-library-server/log"
	"github.com/srus/yith-library-server/tracing"
	"github.com/srus/yith-library-server/validator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TokenRequest is the body of a token endpoint call plus the client
// credentials found on the request.
type TokenRequest struct {
	GrantType   string
	Code        string
	RedirectURI string
	Credentials validator.Credentials
}

// TokenResponse is the successful token endpoint answer.
//
//nolint:tagliatelle
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// TokenService runs the token endpoint. Only the authorization code grant
// is served.
type TokenService struct {
	validator      validator.GrantValidator
	tx             domain.Transactor
	accessTokenTTL time.Duration
	logger         applog.Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(
	v validator.GrantValidator,
	tx domain.Transactor,
	accessTokenTTL time.Duration,
	logger applog.Logger,
) *TokenService {
	if accessTokenTTL <= 0 {
		accessTokenTTL = domain.DefaultAccessTokenTTL
	}
	return &TokenService{
		validator:      v,
		tx:             tx,
		accessTokenTTL: accessTokenTTL,
		logger:         logger,
	}
}

// CreateTokenResponse exchanges an authorization code for a bearer token.
// Every failure is an *errors.OAuth2Error whose StatusCode gives the HTTP
// status.
func (s *TokenService) CreateTokenResponse(ctx context.Context, r TokenRequest) (*TokenResponse, *serrors.OAuth2Error) {
	ctx, span := tracing.Tracer.Start(ctx, "TokenService.CreateTokenResponse")
	span.SetAttributes(attribute.String("oauth2.grant_type", r.GrantType))
	defer span.End()

	resp, oauthErr := s.exchange(ctx, r)
	if oauthErr != nil {
		span.SetStatus(codes.Error, oauthErr.Code)
		metrics.TokenErrorsTotal.WithLabelValues(oauthErr.Code).Inc()
		return nil, oauthErr
	}

	metrics.AccessTokensIssuedTotal.WithLabelValues(validator.GrantTypeAuthorizationCode).Inc()
	return resp, nil
}

func (s *TokenService) exchange(ctx context.Context, r TokenRequest) (*TokenResponse, *serrors.OAuth2Error) {
	req := &validator.Request{}

	// Unsupported grants are reported before the client is authenticated.
	if r.GrantType == "" || !s.validator.ValidateGrantType(ctx, "", r.GrantType, req) {
		return nil, serrors.NewUnsupportedGrantType()
	}

	if !s.validator.AuthenticateClient(ctx, r.Credentials, req) {
		return nil, serrors.NewInvalidClient("")
	}
	clientID := req.Client.ID

	if r.Code == "" {
		return nil, serrors.NewInvalidRequest("Missing code parameter.")
	}

	invalidGrant := serrors.NewInvalidGrant("")

	var resp *TokenResponse
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if !s.validator.ValidateCode(ctx, clientID, r.Code, req) {
			return invalidGrant
		}
		if !s.validator.ConfirmRedirectURI(ctx, clientID, r.Code, r.RedirectURI, req) {
			return invalidGrant
		}

		if err := s.validator.InvalidateAuthorizationCode(ctx, clientID, r.Code, req); err != nil {
			if errors.Is(err, domain.ErrAuthorizationCodeNotFound) {
				return invalidGrant
			}
			return err
		}

		token, err := s.newBearerToken()
		if err != nil {
			return err
		}
		if err := s.validator.SaveBearerToken(ctx, token, req); err != nil {
			return err
		}

		resp = &TokenResponse{
			AccessToken:  token.AccessToken,
			TokenType:    token.TokenType,
			ExpiresIn:    token.ExpiresIn,
			RefreshToken: token.RefreshToken,
			Scope:        domain.JoinScopes(req.Scopes),
		}
		return nil
	})
	if err != nil {
		var oauthErr *serrors.OAuth2Error
		if errors.As(err, &oauthErr) {
			s.logger.Debug(ctx, "Token request rejected", applog.Fields{
				"client_id": clientID,
				"error":     oauthErr.Code,
			})
			return nil, oauthErr
		}

		s.logger.Error(ctx, "Failed to exchange authorization code", err, applog.Fields{
			"client_id": clientID,
		})
		return nil, serrors.NewServerError("")
	}

	s.logger.Info(ctx, "Access token issued", applog.Fields{
		"client_id": clientID,
		"user_id":   req.UserID,
	})
	return resp, nil
}

func (s *TokenService) newBearerToken() (*validator.BearerToken, error) {
	accessToken, err := crypto.GenerateToken(crypto.AccessTokenLength)
	if err != nil {
		return nil, err
	}
	refreshToken, err := crypto.GenerateToken(crypto.RefreshTokenLength)
	if err != nil {
		return nil, err
	}

	return &validator.BearerToken{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    domain.TokenTypeBearer,
		ExpiresIn:    int(s.accessTokenTTL / time.Second),
	}, nil
}
