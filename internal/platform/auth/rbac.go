package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin     = "admin"
	RolePhysician = "physician"
	RoleNurse     = "nurse"
	RoleFrontDesk = "front_desk"
)

var (
	ErrUnauthenticated = errors.New("no authenticated principal")
	ErrForbidden       = errors.New("insufficient role")
)

// Access is the kind of operation being authorized.
type Access string

const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if hasAnyRole(RolesFromContext(c.Request().Context()), roles) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// admin satisfies every role check.
func hasAnyRole(userRoles, required []string) bool {
	for _, has := range userRoles {
		if has == RoleAdmin {
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

// RoleAuthorizer grants access by role for callers below the HTTP layer.
type RoleAuthorizer struct {
	Read  []string
	Write []string
}

// DefaultAuthorizer lets clinical staff and front desk read, and clinical
// staff write.
func DefaultAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{
		Read:  []string{RolePhysician, RoleNurse, RoleFrontDesk},
		Write: []string{RolePhysician, RoleNurse},
	}
}

// Authorize returns ErrUnauthenticated when ctx carries no principal and
// ErrForbidden when the principal lacks a role for the access.
func (a *RoleAuthorizer) Authorize(ctx context.Context, access Access) error {
	if UserIDFromContext(ctx) == "" {
		return ErrUnauthenticated
	}
	allowed := a.Read
	if access == AccessWrite {
		allowed = a.Write
	}
	if !hasAnyRole(RolesFromContext(ctx), allowed) {
		return ErrForbidden
	}
	return nil
}
