package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/wear60/tracking-service/internal/api/middleware"
	"github.com/wear60/tracking-service/internal/core/domain"
)

// ctxPrincipal extracts the caller injected by the Auth middleware and fails
// fast before any service call when it is absent.
func ctxPrincipal(c echo.Context) (domain.Principal, error) {
	p, ok := c.Get(middleware.ContextPrincipal).(domain.Principal)
	if !ok || p.Subject == "" {
		return domain.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return p, nil
}
