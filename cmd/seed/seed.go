package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"quartermaster/internal/app"
	"quartermaster/internal/core/apperror"
	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/security"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/auth"
	"quartermaster/internal/domain/custody"
	"quartermaster/internal/domain/ledger"
)

const (
	seedUserID       = "system:seed"
	seedDocumentType = "seed"
)

// seedID derives a stable id from name so reruns touch the same rows.
func seedID(name string) id.ID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("quartermaster/seed/"+name))
}

type stockSeed struct {
	name                  string
	general, reserve      int64
	reorderPoint, minimum int64
}

var demoStock = []stockSeed{
	{"sandbags", 400, 100, 150, 100},
	{"field-rations", 1200, 300, 500, 300},
	{"water-jerrycans", 60, 20, 40, 20},
	{"tourniquets", 80, 40, 60, 40},
	{"radio-batteries", 30, 10, 50, 10},
}

var demoWorkers = []struct {
	name, department string
}{
	{"Sapper Kovalenko", "engineering"},
	{"Medic Shevchuk", "medical"},
	{"Signaller Bondar", "signals"},
}

type seedSummary struct {
	WarehouseID id.ID
	Workers     []id.ID
	Entries     int
}

// seedDemoData registers demo workers and stocks one warehouse. Items that
// already have a ledger entry are left untouched.
func seedDemoData(ctx context.Context, a *app.App) (*seedSummary, error) {
	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: seedUserID, IsAdmin: true})
	src := ledger.Source{DocumentType: seedDocumentType}

	summary := &seedSummary{WarehouseID: seedID("warehouse/main")}

	for _, w := range demoWorkers {
		worker := &custody.Worker{
			ID:           seedID("worker/" + w.name),
			Name:         w.name,
			DepartmentID: seedID("department/" + w.department),
			Active:       true,
		}
		if err := a.Workers.Save(ctx, worker); err != nil {
			return nil, fmt.Errorf("save worker %s: %w", w.name, err)
		}
		summary.Workers = append(summary.Workers, worker.ID)
	}

	for _, s := range demoStock {
		key := ledger.Key{WarehouseID: summary.WarehouseID, ItemID: seedID("item/" + s.name)}

		_, err := a.Ledger.Get(ctx, key)
		if err == nil {
			continue
		}
		if !apperror.IsNotFound(err) {
			return nil, fmt.Errorf("get %s: %w", s.name, err)
		}

		if _, err := a.Ledger.Receive(ctx, key, types.NewQuantity(s.general), types.NewQuantity(s.reserve), src); err != nil {
			return nil, fmt.Errorf("receive %s: %w", s.name, err)
		}
		if _, err := a.Ledger.SetThresholds(ctx, key, types.NewQuantity(s.reorderPoint), types.NewQuantity(s.minimum)); err != nil {
			return nil, fmt.Errorf("set thresholds %s: %w", s.name, err)
		}
		summary.Entries++
	}
	return summary, nil
}

type devToken struct {
	Role  string
	Token string
}

// devTokens issues one token per well-known role.
func devTokens(jwt *auth.JWTService) ([]devToken, error) {
	users := []*appctx.UserContext{
		{UserID: "dev-storekeeper", Roles: []string{security.RoleStorekeeper}},
		{UserID: "dev-commander", Roles: []string{security.RoleCommander}},
		{UserID: "dev-admin", IsAdmin: true, Roles: []string{security.RoleAdmin}},
	}

	tokens := make([]devToken, 0, len(users))
	for _, u := range users {
		token, _, err := jwt.GenerateAccessToken(u)
		if err != nil {
			return nil, fmt.Errorf("issue %s token: %w", u.UserID, err)
		}
		tokens = append(tokens, devToken{Role: u.Roles[0], Token: token})
	}
	return tokens, nil
}
