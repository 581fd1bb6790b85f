package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/domain"
	"github.com/srus/yith-library-server/internal/metrics"
	"github.com/srus/yith-library-server/validator"
)

// BearerValidator is the checkpoint the guard consults.
type BearerValidator interface {
	ValidateBearerToken(ctx context.Context, token string, scopes []string, req *validator.Request) bool
}

// RequireScopes guards a protected resource. The wrapped handler only runs
// when the request carries a bearer token granting every scope in scopes;
// the resolved principal is then available through domain.PrincipalFromContext.
// Every failure is the same 401.
func RequireScopes(v BearerValidator, scopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			req := &validator.Request{}
			if !ok || !v.ValidateBearerToken(ctx, token, scopes, req) {
				metrics.BearerRejectionsTotal.Inc()
				log.Debug().Str("path", c.Path()).Strs("scopes", scopes).Msg("Bearer token rejected")

				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
			}

			ctx = domain.WithPrincipal(ctx, &domain.Principal{
				UserID:   req.UserID,
				ClientID: req.ClientID,
				Scopes:   req.Scopes,
				Token:    req.AccessToken,
			})
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
