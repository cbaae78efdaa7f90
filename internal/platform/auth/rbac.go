package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleOwner        = "owner"
	RoleAdmin        = "admin"
	RoleStaff        = "staff"
	RoleProfessional = "professional"
)

var validRoles = map[string]bool{
	RoleOwner: true, RoleAdmin: true, RoleStaff: true, RoleProfessional: true,
}

func IsValidRole(role string) bool { return validRoles[role] }

// RequireRole passes when the user holds any of roles. Owners and admins
// pass every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func HasAnyRole(userRoles []string, required ...string) bool {
	for _, has := range userRoles {
		if has == RoleOwner || has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}
