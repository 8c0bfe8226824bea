// Package security provides authorization for Commander's Reserve operations.
package security

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"quartermaster/internal/core/apperror"
	appctx "quartermaster/internal/core/context"
)

// Well-known roles and permissions.
const (
	RoleAdmin       = "admin"
	RoleCommander   = "commander"
	RoleStorekeeper = "storekeeper"

	PermissionReserveAccess = "reserve:access"
	PermissionStockWrite    = "stock:write"
	PermissionBOQApprove    = "boq:approve"
)

// Reserve actions passed to the policy as the "action" variable.
const (
	ActionReceiveReserve    = "receive_reserve"
	ActionMoveToReserve     = "move_to_reserve"
	ActionReleaseToGeneral  = "release_to_general"
	ActionAdjustTarget      = "adjust_target"
	ActionAllocateReserve   = "allocate_reserve"
	ActionReleaseAllocation = "release_reserve_allocation"
	ActionSetMinimum        = "set_minimum_reserve"
	ActionApproveBOQReserve = "approve_boq_reserve"
)

// DefaultReservePolicy grants reserve access to admins, commanders and
// holders of the reserve:access permission.
const DefaultReservePolicy = `is_admin || "commander" in roles || "reserve:access" in permissions`

// ReserveAuthorizer decides whether the caller in ctx may touch the Commander's Reserve.
type ReserveAuthorizer interface {
	AuthorizeReserve(ctx context.Context, action string) error
}

// CELPolicy evaluates a CEL boolean expression against the caller.
// Available variables: user_id, roles, permissions, is_admin, department_id, action.
type CELPolicy struct {
	expr string
	prg  cel.Program
}

// NewCELPolicy compiles expr. Empty expr selects DefaultReservePolicy.
func NewCELPolicy(expr string) (*CELPolicy, error) {
	if expr == "" {
		expr = DefaultReservePolicy
	}

	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("department_id", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("permissions", cel.ListType(cel.StringType)),
		cel.Variable("is_admin", cel.BoolType),
		cel.Variable("action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile reserve policy: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("reserve policy must evaluate to bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build reserve policy program: %w", err)
	}

	return &CELPolicy{expr: expr, prg: prg}, nil
}

// MustCELPolicy is NewCELPolicy that panics on error. Use for defaults and tests.
func MustCELPolicy(expr string) *CELPolicy {
	p, err := NewCELPolicy(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Expression returns the compiled source expression.
func (p *CELPolicy) Expression() string { return p.expr }

// AuthorizeReserve implements ReserveAuthorizer.
func (p *CELPolicy) AuthorizeReserve(ctx context.Context, action string) error {
	user := appctx.GetUser(ctx)
	if user == nil {
		return apperror.NewUnauthorized("authentication required for reserve operations").
			WithDetail("action", action)
	}

	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	perms := user.Permissions
	if perms == nil {
		perms = []string{}
	}

	out, _, err := p.prg.Eval(map[string]any{
		"user_id":       user.UserID,
		"department_id": user.DepartmentID,
		"roles":         roles,
		"permissions":   perms,
		"is_admin":      user.IsAdmin,
		"action":        action,
	})
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("evaluate reserve policy: %w", err))
	}

	if allowed, ok := out.Value().(bool); !ok || !allowed {
		return apperror.NewForbidden("commander reserve access denied").
			WithDetail("action", action).
			WithDetail("user_id", user.UserID)
	}
	return nil
}

var _ ReserveAuthorizer = (*CELPolicy)(nil)
