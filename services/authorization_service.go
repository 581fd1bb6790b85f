package services

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/consent"
	"github.com/srus/yith-library-server/domain"
	serrors "github.com/srus/yith-library-server/errors"
	"github.com/srus/yith-library-server/internal/audit"
	"github.com/srus/yith-library-server/internal/crypto"
	"github.com/srus/yith-library-server/internal/metrics"
	applog "github.com/srus/yith-library-server/log"
	"github.com/srus/yith-library-server/tracing"
	"github.com/srus/yith-library-server/validator"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNoDecision is returned when a consent form is posted without either
// button.
var ErrNoDecision = errors.New("consent decision requires submit or cancel")

// AuthorizationRequest holds the parameters of an authorization request,
// whether they arrive in the query string or in the consent form.
type AuthorizationRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
}

// ApplicationInfo describes the client on the consent screen.
//
//nolint:tagliatelle
type ApplicationInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MainURL     string `json:"main_url"`
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
	OwnerEmail  string `json:"owner_email"`
}

// HiddenFields are echoed back by the consent form.
//
//nolint:tagliatelle
type HiddenFields struct {
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	ResponseType string `json:"response_type"`
	State        string `json:"state"`
	Scope        string `json:"scope"`
}

// ConsentPrompt is everything needed to render the consent screen.
//
//nolint:tagliatelle
type ConsentPrompt struct {
	Application  ApplicationInfo    `json:"application"`
	Scopes       []domain.ScopeInfo `json:"scopes"`
	HiddenFields HiddenFields       `json:"hidden_fields"`
}

// AuthorizationResponse is the outcome of an authorization request. Exactly
// one of RedirectURI and Prompt is set.
type AuthorizationResponse struct {
	RedirectURI string
	Prompt      *ConsentPrompt
}

// AuthorizationService runs the authorization endpoint.
type AuthorizationService struct {
	validator      validator.GrantValidator
	consents       *consent.Tracker
	tx             domain.Transactor
	accessTokenTTL time.Duration
	logger         applog.Logger
}

// NewAuthorizationService creates an AuthorizationService. accessTokenTTL is
// the lifetime of tokens issued to the implicit flow.
func NewAuthorizationService(
	v validator.GrantValidator,
	consents *consent.Tracker,
	tx domain.Transactor,
	accessTokenTTL time.Duration,
	logger applog.Logger,
) *AuthorizationService {
	if accessTokenTTL <= 0 {
		accessTokenTTL = domain.DefaultAccessTokenTTL
	}
	return &AuthorizationService{
		validator:      v,
		consents:       consents,
		tx:             tx,
		accessTokenTTL: accessTokenTTL,
		logger:         logger,
	}
}

// validatedRequest is an authorization request whose client and redirect URI
// are trusted.
type validatedRequest struct {
	client       *client.Client
	redirectURI  string
	responseType string
	scopes       []string
	state        string
}

// Authorize handles the initial GET. A request that was already consented
// to is answered with a redirect carrying fresh credentials; otherwise the
// consent screen is returned. The only errors are *errors.FatalClientError
// and storage failures.
func (s *AuthorizationService) Authorize(ctx context.Context, userID string, r AuthorizationRequest) (*AuthorizationResponse, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AuthorizationService.Authorize")
	span.SetAttributes(attribute.String("oauth2.client_id", r.ClientID))
	defer span.End()

	vr, oauthErr, err := s.validate(ctx, r)
	if err != nil {
		return nil, err
	}
	if oauthErr != nil {
		return &AuthorizationResponse{RedirectURI: errorRedirect(vr, oauthErr)}, nil
	}

	if s.consents.IsAuthorized(ctx, userID, vr.client.ID, vr.scopes, vr.redirectURI, vr.responseType) {
		s.logger.Debug(ctx, "Consent found, skipping prompt", applog.Fields{
			"client_id": vr.client.ID,
			"user_id":   userID,
		})

		uri, err := s.issue(ctx, userID, vr, false)
		if err != nil {
			return nil, err
		}
		return &AuthorizationResponse{RedirectURI: uri}, nil
	}

	return &AuthorizationResponse{Prompt: newConsentPrompt(vr)}, nil
}

// Approve handles a consent form submitted with the authorize button. It
// mints a new code (or implicit token) and records the consent in the same
// transaction, then returns the redirect URI.
func (s *AuthorizationService) Approve(ctx context.Context, userID string, r AuthorizationRequest) (string, error) {
	ctx, span := tracing.Tracer.Start(ctx, "AuthorizationService.Approve")
	span.SetAttributes(attribute.String("oauth2.client_id", r.ClientID))
	defer span.End()

	vr, oauthErr, err := s.validate(ctx, r)
	if err != nil {
		return "", err
	}
	if oauthErr != nil {
		return errorRedirect(vr, oauthErr), nil
	}

	uri, err := s.issue(ctx, userID, vr, true)
	audit.Log(audit.ActionConsentGranted, userID, vr.client.ID, domain.JoinScopes(vr.scopes), err)
	return uri, err
}

// Deny handles a consent form submitted with the cancel button. Nothing is
// persisted. The redirect URI is still checked against the client so that a
// forged form cannot turn the endpoint into an open redirector.
func (s *AuthorizationService) Deny(ctx context.Context, userID string, r AuthorizationRequest) (string, error) {
	req := &validator.Request{}
	c, err := s.trustClient(ctx, r.ClientID, req)
	if err != nil {
		return "", err
	}
	redirectURI, err := s.trustRedirectURI(ctx, c.ID, r.RedirectURI, req)
	if err != nil {
		return "", err
	}

	s.logger.Info(ctx, "Authorization denied by user", applog.Fields{"client_id": c.ID, "user_id": userID})
	audit.Log(audit.ActionConsentDenied, userID, c.ID, "", nil)
	return serrors.NewAccessDenied().WithState(r.State).InURI(redirectURI), nil
}

// validate runs the checkpoints in order. Failures before the redirect URI
// is trusted come back as a *errors.FatalClientError in err; later ones as
// an OAuth2 error to be sent to vr.redirectURI.
func (s *AuthorizationService) validate(ctx context.Context, r AuthorizationRequest) (*validatedRequest, *serrors.OAuth2Error, error) {
	req := &validator.Request{}

	c, err := s.trustClient(ctx, r.ClientID, req)
	if err != nil {
		return nil, nil, err
	}
	redirectURI, err := s.trustRedirectURI(ctx, c.ID, r.RedirectURI, req)
	if err != nil {
		return nil, nil, err
	}

	vr := &validatedRequest{
		client:       c,
		redirectURI:  redirectURI,
		responseType: r.ResponseType,
		state:        r.State,
	}

	if r.ResponseType == "" {
		return vr, serrors.NewInvalidRequest("Missing response_type parameter."), nil
	}
	if !s.validator.ValidateResponseType(ctx, c.ID, r.ResponseType, req) {
		vr.responseType = ""
		return vr, serrors.NewUnsupportedResponseType(), nil
	}

	scopes := domain.ParseScopes(r.Scope)
	if len(scopes) == 0 {
		scopes = s.validator.GetDefaultScopes(ctx, c.ID, req)
	}
	if !s.validator.ValidateScopes(ctx, c.ID, scopes, req) {
		return vr, serrors.NewInvalidScope(""), nil
	}
	vr.scopes = scopes

	return vr, nil, nil
}

func (s *AuthorizationService) trustClient(ctx context.Context, clientID string, req *validator.Request) (*client.Client, error) {
	if clientID == "" || !s.validator.ValidateClientID(ctx, clientID, req) {
		return nil, serrors.NewFatalClientError(serrors.InvalidClientID)
	}
	return req.Client, nil
}

func (s *AuthorizationService) trustRedirectURI(ctx context.Context, clientID, redirectURI string, req *validator.Request) (string, error) {
	if redirectURI == "" {
		def := s.validator.GetDefaultRedirectURI(ctx, clientID, req)
		if def == "" {
			return "", serrors.NewFatalClientError(serrors.MissingRedirectURI)
		}
		return def, nil
	}

	if u, err := url.Parse(redirectURI); err != nil || !u.IsAbs() {
		return "", serrors.NewFatalClientError(serrors.InvalidRedirectURI)
	}
	if !s.validator.ValidateRedirectURI(ctx, clientID, redirectURI, req) {
		return "", serrors.NewFatalClientError(serrors.MismatchingRedirectURI)
	}
	return redirectURI, nil
}

// issue mints the credential asked for by vr.responseType and, when remember
// is set, records the consent in the same transaction.
func (s *AuthorizationService) issue(ctx context.Context, userID string, vr *validatedRequest, remember bool) (string, error) {
	req := &validator.Request{
		ClientID:     vr.client.ID,
		Client:       vr.client,
		UserID:       userID,
		Scopes:       vr.scopes,
		RedirectURI:  vr.redirectURI,
		ResponseType: vr.responseType,
		State:        vr.state,
	}

	var uri string
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		switch vr.responseType {
		case validator.ResponseTypeToken:
			uri, err = s.issueToken(ctx, vr, req)
		default:
			uri, err = s.issueCode(ctx, vr, req)
		}
		if err != nil {
			return err
		}

		if remember {
			return s.consents.Store(ctx, userID, vr.client.ID, vr.scopes, vr.redirectURI, vr.responseType)
		}
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "Failed to issue authorization response", err, applog.Fields{
			"client_id": vr.client.ID,
			"user_id":   userID,
		})
		return "", err
	}

	switch vr.responseType {
	case validator.ResponseTypeToken:
		metrics.AccessTokensIssuedTotal.WithLabelValues("implicit").Inc()
	default:
		metrics.AuthorizationCodesIssuedTotal.Inc()
	}
	if remember {
		metrics.ConsentsStoredTotal.Inc()
	}

	return uri, nil
}

func (s *AuthorizationService) issueCode(ctx context.Context, vr *validatedRequest, req *validator.Request) (string, error) {
	code, err := crypto.GenerateToken(crypto.CodeLength)
	if err != nil {
		return "", err
	}
	if err := s.validator.SaveAuthorizationCode(ctx, vr.client.ID, code, req); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("code", code)
	if vr.state != "" {
		params.Set("state", vr.state)
	}
	return serrors.AddQueryParams(vr.redirectURI, params), nil
}

func (s *AuthorizationService) issueToken(ctx context.Context, vr *validatedRequest, req *validator.Request) (string, error) {
	accessToken, err := crypto.GenerateToken(crypto.AccessTokenLength)
	if err != nil {
		return "", err
	}

	expiresIn := int(s.accessTokenTTL / time.Second)
	token := &validator.BearerToken{
		AccessToken: accessToken,
		TokenType:   domain.TokenTypeBearer,
		ExpiresIn:   expiresIn,
	}
	if err := s.validator.SaveBearerToken(ctx, token, req); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("token_type", domain.TokenTypeBearer)
	params.Set("expires_in", strconv.Itoa(expiresIn))
	params.Set("scope", domain.JoinScopes(vr.scopes))
	if vr.state != "" {
		params.Set("state", vr.state)
	}
	return serrors.AddFragmentParams(vr.redirectURI, params), nil
}

// errorRedirect encodes err for vr.redirectURI. Implicit requests carry it
// in the fragment.
func errorRedirect(vr *validatedRequest, err *serrors.OAuth2Error) string {
	err = err.WithState(vr.state)
	if vr.responseType == validator.ResponseTypeToken {
		return serrors.AddFragmentParams(vr.redirectURI, err.Params())
	}
	return err.InURI(vr.redirectURI)
}

func newConsentPrompt(vr *validatedRequest) *ConsentPrompt {
	return &ConsentPrompt{
		Application: ApplicationInfo{
			ID:          vr.client.ID,
			Name:        vr.client.Name,
			MainURL:     vr.client.MainURL,
			ImageURL:    vr.client.ImageURL,
			Description: vr.client.Description,
			OwnerEmail:  vr.client.OwnerEmail,
		},
		Scopes: domain.DescribeScopes(vr.scopes),
		HiddenFields: HiddenFields{
			ClientID:     vr.client.ID,
			RedirectURI:  vr.redirectURI,
			ResponseType: vr.responseType,
			State:        vr.state,
			Scope:        domain.JoinScopes(vr.scopes),
		},
	}
}
