package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/wear60/tracking-service/internal/core/domain"
)

// RBAC lets the request through only when the authenticated principal holds
// one of roles. It must run after Auth; ownership of a specific order is
// checked later by the order service.
func RBAC(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := c.Get(ContextPrincipal).(domain.Principal)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			if !slices.Contains(roles, p.Role) {
				return echo.NewHTTPError(http.StatusForbidden, "role "+p.Role+" may not access this resource")
			}
			return next(c)
		}
	}
}
