package reserve_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quartermaster/internal/core/apperror"
	appctx "quartermaster/internal/core/context"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/security"
	"quartermaster/internal/core/types"
	"quartermaster/internal/domain/ledger"
	"quartermaster/internal/domain/reserve"
	"quartermaster/internal/infrastructure/storage/memory"
)

func q(units int64) types.Quantity { return types.NewQuantity(units) }

func setup(t *testing.T, general, reserveQty int64) (*reserve.Service, *ledger.Service, ledger.Key) {
	t.Helper()
	store := memory.NewStore()
	txm := memory.NewTxManager(store)
	ledgerSvc := ledger.NewService(memory.NewLedgerRepo(store), txm, ledger.DefaultThresholds(), nil, nil)

	key := ledger.Key{WarehouseID: id.New(), ItemID: id.New()}
	_, err := ledgerSvc.Receive(context.Background(), key, q(general), q(reserveQty), ledger.Source{})
	require.NoError(t, err)

	policy, err := security.NewCELPolicy("")
	require.NoError(t, err)
	return reserve.NewService(ledgerSvc, policy, txm), ledgerSvc, key
}

func commander() context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{
		UserID: "cmd-1",
		Roles:  []string{security.RoleCommander},
	})
}

func storekeeper() context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{
		UserID: "sk-1",
		Roles:  []string{security.RoleStorekeeper},
	})
}

func TestMoveAndReleaseRoundTrip(t *testing.T) {
	svc, ledgerSvc, key := setup(t, 100, 10)
	ctx := commander()

	e, err := svc.MoveGeneralToReserve(ctx, key, q(30), ledger.Source{})
	require.NoError(t, err)
	assert.Equal(t, q(70), e.GeneralQuantity)
	assert.Equal(t, q(40), e.ReserveQuantity)
	assert.Equal(t, q(110), e.TotalQuantity)

	e, err = svc.ReleaseReserveToGeneral(ctx, key, q(30), ledger.Source{})
	require.NoError(t, err)
	assert.Equal(t, q(100), e.GeneralQuantity)
	assert.Equal(t, q(10), e.ReserveQuantity)

	moves, err := ledgerSvc.ListMovements(ctx, key, ledger.MovementFilter{})
	require.NoError(t, err)
	assert.Equal(t, ledger.MovementRebalance, moves[0].Kind)
	assert.Equal(t, reserve.DocumentType, moves[0].RecorderType)
}

func TestMoveRequiresAvailableGeneral(t *testing.T) {
	svc, ledgerSvc, key := setup(t, 20, 0)
	ctx := commander()

	_, err := ledgerSvc.AllocateGeneral(ctx, key, q(15), ledger.Source{})
	require.NoError(t, err)

	_, err = svc.MoveGeneralToReserve(ctx, key, q(6), ledger.Source{})
	assert.True(t, apperror.IsInsufficientAvailability(err))

	e, err := ledgerSvc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, q(20), e.GeneralQuantity)
	assert.Equal(t, q(0), e.ReserveQuantity)
}

func TestAdjustReserveTarget(t *testing.T) {
	svc, _, key := setup(t, 100, 20)
	ctx := commander()

	e, err := svc.AdjustReserveTarget(ctx, key, q(50), ledger.Source{})
	require.NoError(t, err)
	assert.Equal(t, q(50), e.ReserveQuantity)
	assert.Equal(t, q(70), e.GeneralQuantity)
	assert.Equal(t, q(120), e.TotalQuantity)

	e, err = svc.AdjustReserveTarget(ctx, key, q(5), ledger.Source{})
	require.NoError(t, err)
	assert.Equal(t, q(5), e.ReserveQuantity)
	assert.Equal(t, q(115), e.GeneralQuantity)
	assert.Equal(t, q(120), e.TotalQuantity)

	e, err = svc.AdjustReserveTarget(ctx, key, q(5), ledger.Source{})
	require.NoError(t, err)
	assert.Equal(t, q(5), e.ReserveQuantity)

	_, err = svc.AdjustReserveTarget(ctx, key, q(200), ledger.Source{})
	assert.True(t, apperror.IsInsufficientAvailability(err))

	_, err = svc.AdjustReserveTarget(ctx, key, q(-1), ledger.Source{})
	assert.True(t, apperror.IsValidation(err))
}

func TestUnauthorizedCallerLeavesEntryUnchanged(t *testing.T) {
	svc, ledgerSvc, key := setup(t, 100, 20)

	calls := map[string]func(ctx context.Context) error{
		"move": func(ctx context.Context) error {
			_, err := svc.MoveGeneralToReserve(ctx, key, q(10), ledger.Source{})
			return err
		},
		"release": func(ctx context.Context) error {
			_, err := svc.ReleaseReserveToGeneral(ctx, key, q(10), ledger.Source{})
			return err
		},
		"target": func(ctx context.Context) error {
			_, err := svc.AdjustReserveTarget(ctx, key, q(0), ledger.Source{})
			return err
		},
		"allocate": func(ctx context.Context) error {
			_, err := svc.AllocateReserve(ctx, key, q(1), ledger.Source{})
			return err
		},
		"minimum": func(ctx context.Context) error {
			_, err := svc.SetMinimumReserve(ctx, key, q(5))
			return err
		},
	}

	before, err := ledgerSvc.Get(context.Background(), key)
	require.NoError(t, err)

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call(storekeeper())
			assert.True(t, apperror.IsUnauthorized(err))

			err = call(context.Background())
			assert.True(t, apperror.IsUnauthorized(err))
		})
	}

	after, err := ledgerSvc.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAllocateAndReleaseReserve(t *testing.T) {
	svc, _, key := setup(t, 0, 30)
	ctx := commander()

	e, err := svc.AllocateReserve(ctx, key, q(12), ledger.Source{})
	require.NoError(t, err)
	assert.Equal(t, q(18), e.AvailableReserve())

	_, err = svc.ReleaseReserveAllocation(ctx, key, q(13), ledger.Source{})
	assert.True(t, apperror.IsOverRelease(err))

	e, err = svc.ReleaseReserveAllocation(ctx, key, q(12), ledger.Source{})
	require.NoError(t, err)
	assert.Equal(t, q(18), e.ReserveQuantity)
	assert.Equal(t, q(18), e.TotalQuantity)
}

func TestSetMinimumReserveKeepsReorderPoint(t *testing.T) {
	svc, ledgerSvc, key := setup(t, 50, 5)
	ctx := commander()

	_, err := ledgerSvc.SetThresholds(ctx, key, q(40), q(1))
	require.NoError(t, err)

	e, err := svc.SetMinimumReserve(ctx, key, q(10))
	require.NoError(t, err)
	assert.Equal(t, q(40), e.ReorderPoint)
	assert.Equal(t, q(10), e.MinimumReserveRequired)
	assert.True(t, e.IsReserveBelowMinimum())
}

func TestSetThresholdsGatesOnlyMinimumChanges(t *testing.T) {
	svc, ledgerSvc, key := setup(t, 50, 5)

	e, err := svc.SetThresholds(storekeeper(), key, q(30), 0)
	require.NoError(t, err)
	assert.Equal(t, q(30), e.ReorderPoint)

	_, err = svc.SetThresholds(storekeeper(), key, q(30), q(4))
	assert.True(t, apperror.IsUnauthorized(err))

	unchanged, err := ledgerSvc.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, q(0), unchanged.MinimumReserveRequired)

	e, err = svc.SetThresholds(commander(), key, q(30), q(4))
	require.NoError(t, err)
	assert.Equal(t, q(4), e.MinimumReserveRequired)

	e, err = svc.SetThresholds(storekeeper(), key, q(25), q(4))
	require.NoError(t, err, "keeping the minimum needs no reserve access")
	assert.Equal(t, q(25), e.ReorderPoint)
}
