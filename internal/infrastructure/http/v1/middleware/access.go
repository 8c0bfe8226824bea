// Package middleware provides HTTP middleware for the quartermaster API.
package middleware

import (
	"github.com/gin-gonic/gin"

	"quartermaster/internal/core/apperror"
	appctx "quartermaster/internal/core/context"
)

// Access lists the roles and permissions that open an endpoint.
// Holding any one of them is enough.
type Access struct {
	Roles       []string
	Permissions []string
}

func (a Access) allows(user *appctx.UserContext) bool {
	if user.IsAdmin {
		return true
	}
	for _, role := range a.Roles {
		for _, held := range user.Roles {
			if held == role {
				return true
			}
		}
	}
	for _, perm := range a.Permissions {
		for _, held := range user.Permissions {
			if held == perm {
				return true
			}
		}
	}
	return false
}

// RequireAccess rejects callers holding none of access. Admins always pass.
func RequireAccess(access Access) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := appctx.GetUser(c.Request.Context())
		if user == nil {
			abortUnauthorized(c, "authentication required")
			return
		}
		if access.allows(user) {
			c.Next()
			return
		}

		_ = c.Error(
			apperror.NewForbidden("insufficient permissions").
				WithDetail("required_roles", access.Roles).
				WithDetail("required_permissions", access.Permissions),
		)
		c.Abort()
	}
}
