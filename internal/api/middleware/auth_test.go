package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/wear60/tracking-service/internal/core/domain"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func runAuth(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, echo.Context, bool) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := Auth("secret")(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, c, called
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":  "user_1",
		"role": domain.RoleCustomer,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	rec, c, called := runAuth(t, req)

	if !called {
		t.Fatalf("next not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if c.Get(ContextRole) != domain.RoleCustomer {
		t.Fatalf("role not set")
	}
	p, ok := c.Get(ContextPrincipal).(domain.Principal)
	if !ok || p.Subject != "user_1" || p.Role != domain.RoleCustomer {
		t.Fatalf("principal not set: %+v", c.Get(ContextPrincipal))
	}
}

func TestAuthMiddleware_QueryTokenOnGet(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"sub": "user_1", "role": domain.RoleCustomer})
	req := httptest.NewRequest(http.MethodGet, "/stream?access_token="+signed, nil)

	rec, _, called := runAuth(t, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected query token to authenticate, got %d", rec.Code)
	}
}

func TestAuthMiddleware_QueryTokenRejectedOnPost(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{"sub": "user_1", "role": domain.RoleCustomer})
	req := httptest.NewRequest(http.MethodPost, "/?access_token="+signed, nil)

	rec, _, called := runAuth(t, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	rec, _, called := runAuth(t, httptest.NewRequest(http.MethodGet, "/", nil))

	if called {
		t.Fatalf("should not reach next")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_InvalidHeaderFormat(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")

	rec, _, called := runAuth(t, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")

	rec, _, called := runAuth(t, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	signed := signToken(t, jwt.MapClaims{
		"sub":  "user_1",
		"role": domain.RoleCustomer,
		"exp":  time.Now().Add(-time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	rec, _, called := runAuth(t, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_MissingRole(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "user_1"}))

	rec, _, called := runAuth(t, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddleware_WrongAlgorithm(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "user_1", "role": domain.RoleCustomer,
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	rec, _, called := runAuth(t, req)

	if called || rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
