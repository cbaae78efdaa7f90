package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextWithRoles(roles []string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name     string
		roles    []string
		required []string
		allowed  bool
	}{
		{"matching role", []string{RoleStaff}, []string{RoleStaff, RoleProfessional}, true},
		{"owner passes everything", []string{RoleOwner}, []string{RoleProfessional}, true},
		{"admin passes everything", []string{RoleAdmin}, []string{RoleOwner}, true},
		{"missing role", []string{RoleProfessional}, []string{RoleStaff}, false},
		{"no roles", nil, []string{RoleStaff}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := contextWithRoles(tt.roles)
			err := RequireRole(tt.required...)(ok)(c)
			if tt.allowed && err != nil {
				t.Errorf("expected access, got %v", err)
			}
			if !tt.allowed {
				expectStatus(t, err, http.StatusForbidden)
			}
		})
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range []string{RoleOwner, RoleAdmin, RoleStaff, RoleProfessional} {
		if !IsValidRole(r) {
			t.Errorf("expected %s to be valid", r)
		}
	}
	if IsValidRole("physician") {
		t.Error("expected physician to be invalid")
	}
}
