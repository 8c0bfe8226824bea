package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"

	appctx "quartermaster/internal/core/context"
)

func TestAccess_Allows(t *testing.T) {
	access := Access{Roles: []string{"commander"}, Permissions: []string{"boq:approve"}}

	tests := []struct {
		name string
		user appctx.UserContext
		want bool
	}{
		{"role", appctx.UserContext{Roles: []string{"storekeeper", "commander"}}, true},
		{"permission", appctx.UserContext{Permissions: []string{"boq:approve"}}, true},
		{"admin", appctx.UserContext{IsAdmin: true}, true},
		{"neither", appctx.UserContext{Roles: []string{"storekeeper"}, Permissions: []string{"stock:write"}}, false},
		{"empty", appctx.UserContext{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, access.allows(&tt.user))
		})
	}
}
