package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestContext(t *testing.T, roles, caps []string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := req.Context()
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	ctx = context.WithValue(ctx, UserCapabilitiesKey, caps)
	rec := httptest.NewRecorder()
	c := e.NewContext(req.WithContext(ctx), rec)
	return c, rec
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestRequireRole_Allowed(t *testing.T) {
	c, rec := newTestContext(t, []string{"nurse"}, nil)
	h := RequireRole("nurse", "physician")(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	c, _ := newTestContext(t, []string{"admin"}, nil)
	h := RequireRole("physician")(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("expected admin to pass any role check, got: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	c, _ := newTestContext(t, []string{"caregiver"}, nil)
	h := RequireRole("physician")(okHandler)
	err := h(c)
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequire_ExactCapability(t *testing.T) {
	c, _ := newTestContext(t, nil, []string{"edit:reminders"})
	h := Require("edit", "reminders")(okHandler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequire_MissingCapability(t *testing.T) {
	c, _ := newTestContext(t, nil, []string{"view:reminders"})
	h := Require("edit", "reminders")(okHandler)
	err := h(c)
	if err == nil {
		t.Fatal("expected forbidden error")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestMatchCapability(t *testing.T) {
	cases := []struct {
		granted  string
		required string
		want     bool
	}{
		{"edit:reminders", "edit:reminders", true},
		{"*:*", "edit:followups", true},
		{"view:*", "view:routines", true},
		{"view:*", "edit:routines", false},
		{"*:reminders", "edit:reminders", true},
		{"*:reminders", "edit:followups", false},
		{"edit", "edit:reminders", false},
		{"", "view:reminders", false},
	}
	for _, tc := range cases {
		if got := matchCapability(tc.granted, tc.required); got != tc.want {
			t.Errorf("matchCapability(%q, %q) = %v, want %v", tc.granted, tc.required, got, tc.want)
		}
	}
}
