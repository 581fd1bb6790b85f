package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/srus/yith-library-server/client"
)

const corsAllowedHeaders = "Origin, Content-Type, Accept, Authorization"

// ClientLookup finds the client named by a client_id query parameter.
type ClientLookup interface {
	GetClient(ctx context.Context, clientID string) (*client.Client, error)
}

// CORSManager decides which origins may read responses. Requests naming a
// client_id are checked against that client's authorized origins, all
// others against the global list.
type CORSManager struct {
	global  []string
	clients ClientLookup
}

// NewCORSManager creates a CORSManager.
func NewCORSManager(globalOrigins []string, clients ClientLookup) *CORSManager {
	return &CORSManager{global: globalOrigins, clients: clients}
}

// Middleware adds Access-Control-Allow-Origin for allowed origins.
func (m *CORSManager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if origin := c.Request().Header.Get(echo.HeaderOrigin); origin != "" {
				h := c.Response().Header()
				h.Add(echo.HeaderVary, echo.HeaderOrigin)
				if m.allowed(c.Request().Context(), origin, c.QueryParam("client_id")) {
					h.Set(echo.HeaderAccessControlAllowOrigin, origin)
				}
			}
			return next(c)
		}
	}
}

func (m *CORSManager) allowed(ctx context.Context, origin, clientID string) bool {
	origins := m.global
	if clientID != "" {
		origins = nil
		if c, err := m.clients.GetClient(ctx, clientID); err == nil {
			origins = c.AuthorizedOrigins
		}
	}

	for _, o := range origins {
		if o == origin {
			log.Debug().Str("origin", origin).Msg("Origin is allowed")
			return true
		}
	}
	log.Debug().Str("origin", origin).Msg("Origin is not allowed")
	return false
}

// Preflight answers OPTIONS on a resource route. It never runs the bearer
// guard.
func Preflight(methods ...string) echo.HandlerFunc {
	allow := strings.Join(methods, ", ")
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderAccessControlAllowMethods, allow)
		h.Set(echo.HeaderAccessControlAllowHeaders, corsAllowedHeaders)
		return c.NoContent(http.StatusOK)
	}
}
