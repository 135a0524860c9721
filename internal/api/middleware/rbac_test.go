package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/wear60/tracking-service/internal/core/domain"
)

func TestRBAC(t *testing.T) {
	partnerOnly := RBAC(domain.RoleDeliveryPartner)
	viewers := RBAC(domain.RoleCustomer, domain.RoleDeliveryPartner)

	cases := []struct {
		name      string
		mw        echo.MiddlewareFunc
		principal *domain.Principal
		want      int
	}{
		{"partner on partner route", partnerOnly, &domain.Principal{Subject: "p1", Role: domain.RoleDeliveryPartner}, http.StatusOK},
		{"customer on partner route", partnerOnly, &domain.Principal{Subject: "u1", Role: domain.RoleCustomer}, http.StatusForbidden},
		{"customer on viewer route", viewers, &domain.Principal{Subject: "u1", Role: domain.RoleCustomer}, http.StatusOK},
		{"unknown role on viewer route", viewers, &domain.Principal{Subject: "a1", Role: "admin"}, http.StatusForbidden},
		{"no principal", viewers, nil, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			if tc.principal != nil {
				c.Set(ContextPrincipal, *tc.principal)
			}

			err := tc.mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)

			got := http.StatusOK
			var he *echo.HTTPError
			if errors.As(err, &he) {
				got = he.Code
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}
