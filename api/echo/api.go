//nolint:varnamelen
package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/client"
	"github.com/srus/yith-library-server/consent"
	"github.com/srus/yith-library-server/domain"
	serrors "github.com/srus/yith-library-server/errors"
	"github.com/srus/yith-library-server/internal/audit"
	"github.com/srus/yith-library-server/middleware"
	"github.com/srus/yith-library-server/services"
	"github.com/srus/yith-library-server/validator"
)

// OAuth2API struct to hold dependencies.
type OAuth2API struct {
	authorization *services.AuthorizationService
	tokens        *services.TokenService
	clients       *client.ClientService
	consents      *consent.Tracker
	bearer        middleware.BearerValidator
	owners        middleware.OwnerResolver
	cors          *middleware.CORSManager
}

// NewOAuth2API initializes the OAuth2 API. cors may be nil.
func NewOAuth2API(
	authorization *services.AuthorizationService,
	tokens *services.TokenService,
	clients *client.ClientService,
	consents *consent.Tracker,
	bearer middleware.BearerValidator,
	owners middleware.OwnerResolver,
	cors *middleware.CORSManager,
) *OAuth2API {
	if owners == nil {
		owners = middleware.HeaderOwnerResolver{}
	}
	return &OAuth2API{
		authorization: authorization,
		tokens:        tokens,
		clients:       clients,
		consents:      consents,
		bearer:        bearer,
		owners:        owners,
		cors:          cors,
	}
}

// RegisterRoutes registers the OAuth2 routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	if oa.cors != nil {
		e.Use(oa.cors.Middleware())
	}

	owner := middleware.RequireOwner(oa.owners)
	secure := middleware.SecurityHeaders()

	e.GET("/oauth2/endpoints/authorization", oa.AuthorizeHandler, secure, owner)
	e.POST("/oauth2/endpoints/authorization", oa.AuthorizeDecisionHandler, secure, owner)
	e.POST("/oauth2/endpoints/token", oa.TokenHandler, secure)

	e.GET("/oauth2/authorized-applications", oa.AuthorizedApplicationsHandler, owner)
	e.POST("/oauth2/applications/:app/revoke", oa.RevokeApplicationHandler, owner)
	e.GET("/oauth2/clients", oa.ClientsHandler)

	e.GET("/user", oa.UserInfoHandler, middleware.RequireScopes(oa.bearer, domain.ScopeReadUserInfo))
	e.OPTIONS("/user", middleware.Preflight(http.MethodGet))
}

func authorizationRequest(get func(string) string) services.AuthorizationRequest {
	return services.AuthorizationRequest{
		ClientID:     get("client_id"),
		RedirectURI:  get("redirect_uri"),
		ResponseType: get("response_type"),
		Scope:        get("scope"),
		State:        get("state"),
	}
}

// authorizationError renders errors raised before a redirect URI is trusted.
func authorizationError(c echo.Context, err error) error {
	var fatal *serrors.FatalClientError
	if errors.As(err, &fatal) {
		log.Warn().Str("detail", fatal.Detail).Msg("Rejected authorization request")
		return c.String(http.StatusBadRequest, fatal.Message())
	}

	log.Error().Err(err).Msg("Authorization request failed")
	return c.JSON(http.StatusInternalServerError, serrors.NewServerError(""))
}

// AuthorizeHandler starts an authorization. It redirects when the user
// already consented to the request, and returns the consent screen document
// otherwise.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := domain.ResourceOwnerFromContext(ctx)

	resp, err := oa.authorization.Authorize(ctx, userID, authorizationRequest(c.QueryParam))
	if err != nil {
		return authorizationError(c, err)
	}
	if resp.RedirectURI != "" {
		return c.Redirect(http.StatusFound, resp.RedirectURI)
	}

	return c.JSON(http.StatusOK, resp.Prompt)
}

// AuthorizeDecisionHandler receives the consent form.
func (oa *OAuth2API) AuthorizeDecisionHandler(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := domain.ResourceOwnerFromContext(ctx)

	form, err := c.FormParams()
	if err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("Malformed form body."))
	}
	r := authorizationRequest(form.Get)

	var uri string
	switch {
	case form.Has("submit"):
		uri, err = oa.authorization.Approve(ctx, userID, r)
	case form.Has("cancel"):
		uri, err = oa.authorization.Deny(ctx, userID, r)
	default:
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest(services.ErrNoDecision.Error()))
	}
	if err != nil {
		return authorizationError(c, err)
	}

	return c.Redirect(http.StatusFound, uri)
}

// TokenHandler exchanges an authorization code for a bearer token.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	h := c.Response().Header()
	h.Set(echo.HeaderCacheControl, "no-store")
	h.Set("Pragma", "no-cache")

	authorization := c.Request().Header.Get(echo.HeaderAuthorization)
	resp, oauthErr := oa.tokens.CreateTokenResponse(c.Request().Context(), services.TokenRequest{
		GrantType:   c.FormValue("grant_type"),
		Code:        c.FormValue("code"),
		RedirectURI: c.FormValue("redirect_uri"),
		Credentials: validator.Credentials{
			Authorization: authorization,
			ClientID:      c.FormValue("client_id"),
			ClientSecret:  c.FormValue("client_secret"),
		},
	})
	if oauthErr != nil {
		if oauthErr.Code == serrors.InvalidClient && authorization != "" {
			h.Set(echo.HeaderWWWAuthenticate, "Basic")
		}
		return c.JSON(oauthErr.StatusCode(), oauthErr)
	}

	return c.JSON(http.StatusOK, resp)
}

// AuthorizedApplication is one entry of the authorized applications list.
//
//nolint:tagliatelle
type AuthorizedApplication struct {
	ClientID     string    `json:"client_id"`
	Name         string    `json:"name"`
	MainURL      string    `json:"main_url"`
	ImageURL     string    `json:"image_url"`
	Description  string    `json:"description"`
	Scope        string    `json:"scope"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

// AuthorizedApplicationsHandler lists the applications the user consented
// to. Consents whose client was deleted are skipped.
func (oa *OAuth2API) AuthorizedApplicationsHandler(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := domain.ResourceOwnerFromContext(ctx)

	records, err := oa.consents.List(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list authorized applications")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError(""))
	}

	apps := make([]AuthorizedApplication, 0, len(records))
	for _, r := range records {
		app, err := oa.clients.GetClient(ctx, r.ClientID)
		if err != nil {
			continue
		}
		apps = append(apps, AuthorizedApplication{
			ClientID:     app.ID,
			Name:         app.Name,
			MainURL:      app.MainURL,
			ImageURL:     app.ImageURL,
			Description:  app.Description,
			Scope:        domain.JoinScopes(r.Scopes),
			AuthorizedAt: r.UpdatedAt,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{"authorized_apps": apps})
}

// RevokeApplicationHandler forgets the user's consent for an application.
// Tokens already issued to it keep working until they expire.
func (oa *OAuth2API) RevokeApplicationHandler(c echo.Context) error {
	ctx := c.Request().Context()
	userID, _ := domain.ResourceOwnerFromContext(ctx)

	appID := c.Param("app")
	if _, err := uuid.Parse(appID); err != nil {
		return c.String(http.StatusBadRequest, "Invalid application id")
	}

	app, err := oa.clients.GetClient(ctx, appID)
	if err != nil {
		if errors.Is(err, client.ErrClientNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		log.Error().Err(err).Str("client_id", appID).Msg("Failed to load application")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError(""))
	}

	if err := oa.consents.Revoke(ctx, userID, app.ID); err != nil && !errors.Is(err, domain.ErrAuthorizedApplicationNotFound) {
		log.Error().Err(err).Str("client_id", app.ID).Msg("Failed to revoke application")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError(""))
	}

	log.Info().Str("client_id", app.ID).Str("user_id", userID).Msg("Application access revoked")
	audit.Log(audit.ActionConsentRevoked, userID, app.ID, "", nil)
	return c.JSON(http.StatusOK, echo.Map{"client_id": app.ID, "revoked": true})
}

// PublicClient is the directory entry of a production ready client.
//
//nolint:tagliatelle
type PublicClient struct {
	ID          string `json:"client_id"`
	Name        string `json:"name"`
	MainURL     string `json:"main_url"`
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
}

// ClientsHandler lists production ready clients.
func (oa *OAuth2API) ClientsHandler(c echo.Context) error {
	list, err := oa.clients.ListProductionReady(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list clients")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError(""))
	}

	out := make([]PublicClient, 0, len(list))
	for _, cl := range list {
		out = append(out, PublicClient{
			ID:          cl.ID,
			Name:        cl.Name,
			MainURL:     cl.MainURL,
			ImageURL:    cl.ImageURL,
			Description: cl.Description,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"apps": out})
}

// UserInfoHandler returns the principal behind the bearer token.
func (oa *OAuth2API) UserInfoHandler(c echo.Context) error {
	p, ok := domain.PrincipalFromContext(c.Request().Context())
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	scopes := p.Scopes
	if p.Token != nil {
		scopes = p.Token.Scopes
	}

	return c.JSON(http.StatusOK, echo.Map{
		"user_id":   p.UserID,
		"client_id": p.ClientID,
		"scope":     domain.JoinScopes(scopes),
	})
}
