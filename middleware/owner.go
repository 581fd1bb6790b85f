package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/srus/yith-library-server/domain"
)

// DefaultOwnerHeader carries the logged in user id set by the login layer in
// front of the server.
const DefaultOwnerHeader = "X-Yith-User"

// OwnerResolver finds the logged in resource owner of a request.
type OwnerResolver interface {
	ResolveOwner(r *http.Request) (string, bool)
}

// HeaderOwnerResolver trusts a request header. The proxy in front of the
// server must strip the header from client requests.
type HeaderOwnerResolver struct {
	Header string
}

// ResolveOwner implements OwnerResolver.
func (h HeaderOwnerResolver) ResolveOwner(r *http.Request) (string, bool) {
	name := h.Header
	if name == "" {
		name = DefaultOwnerHeader
	}
	id := strings.TrimSpace(r.Header.Get(name))
	return id, id != ""
}

// RequireOwner rejects requests without a resource owner with a 401 and
// stores the owner in the request context otherwise.
func RequireOwner(resolver OwnerResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, ok := resolver.ResolveOwner(c.Request())
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "login_required"})
			}

			ctx := domain.WithResourceOwner(c.Request().Context(), userID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
