package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wear60/tracking-service/internal/core/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusRule maps a domain sentinel to a response. An empty message means
// the wrapped error text is safe to show.
type statusRule struct {
	target error
	code   int
	msg    string
}

var statusRules = []statusRule{
	{domain.ErrOrderNotFound, http.StatusNotFound, "order not found"},
	{domain.ErrForbidden, http.StatusForbidden, "access forbidden"},
	{domain.ErrAlreadyAssigned, http.StatusConflict, "order already assigned"},
	{domain.ErrStaleWrite, http.StatusConflict, "order changed concurrently, retry"},
	{domain.ErrInvalidTransition, http.StatusUnprocessableEntity, ""},
	{domain.ErrValidation, http.StatusUnprocessableEntity, ""},
	{domain.ErrSnapshotUnavailable, http.StatusServiceUnavailable, "tracking temporarily unavailable"},
	{domain.ErrChannel, http.StatusServiceUnavailable, "tracking temporarily unavailable"},
}

// NewHTTPErrorHandler renders every handler error as {"error": "..."}.
// Domain errors get fixed status codes; anything unrecognised is logged and
// reported as a bare 500.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := classify(err)
		switch {
		case code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable:
			log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).Msg("unhandled error")
		case code == http.StatusServiceUnavailable:
			log.Warn().Err(err).Str("path", c.Path()).Msg("tracking dependency unavailable")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func classify(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprint(he.Message)
	}
	for _, r := range statusRules {
		if errors.Is(err, r.target) {
			if r.msg == "" {
				return r.code, err.Error()
			}
			return r.code, r.msg
		}
	}
	return http.StatusInternalServerError, "internal server error"
}
