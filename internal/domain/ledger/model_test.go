package ledger

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quartermaster/internal/core/apperror"
	"quartermaster/internal/core/id"
	"quartermaster/internal/core/types"
)

func q(units int64) types.Quantity { return types.NewQuantity(units) }

func newTestEntry(general, reserve int64) *Entry {
	e := NewEntry(Key{WarehouseID: id.New(), ItemID: id.New()}, "test")
	e.GeneralQuantity = q(general)
	e.ReserveQuantity = q(reserve)
	e.recomputeTotal()
	return e
}

func TestEntry_AllocateThenRelease(t *testing.T) {
	e := newTestEntry(100, 0)

	require.NoError(t, e.AllocateGeneral(q(40)))
	assert.Equal(t, q(60), e.AvailableGeneral())

	before := *e
	err := e.AllocateGeneral(q(70))
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientAvailability(err))
	assert.Equal(t, before, *e)

	require.NoError(t, e.ReleaseGeneralAllocation(q(40)))
	assert.Equal(t, q(0), e.GeneralAllocated)
	assert.Equal(t, q(60), e.GeneralQuantity)
	assert.Equal(t, q(60), e.TotalQuantity)
	require.NoError(t, e.CheckInvariants())
}

func TestEntry_OverRelease(t *testing.T) {
	e := newTestEntry(10, 10)
	require.NoError(t, e.AllocateReserve(q(5)))

	before := *e
	err := e.ReleaseReserveAllocation(q(6))
	assert.True(t, apperror.IsOverRelease(err))
	assert.Equal(t, before, *e)

	err = e.CancelReserveAllocation(q(6))
	assert.True(t, apperror.IsOverRelease(err))
}

func TestEntry_CancelKeepsQuantity(t *testing.T) {
	e := newTestEntry(10, 0)
	require.NoError(t, e.AllocateGeneral(q(4)))
	require.NoError(t, e.CancelGeneralAllocation(q(4)))

	assert.Equal(t, q(10), e.GeneralQuantity)
	assert.Equal(t, q(0), e.GeneralAllocated)
}

func TestEntry_AdjustCannotEatAllocations(t *testing.T) {
	e := newTestEntry(10, 0)
	require.NoError(t, e.AllocateGeneral(q(8)))

	err := e.AdjustGeneral(q(-3))
	assert.True(t, apperror.IsInsufficientAvailability(err))

	require.NoError(t, e.AdjustGeneral(q(-2)))
	assert.Equal(t, q(8), e.GeneralQuantity)
	assert.Equal(t, q(8), e.TotalQuantity)

	assert.True(t, apperror.IsValidation(e.AdjustGeneral(0)))
}

func TestEntry_ReceiveRejectsNegative(t *testing.T) {
	e := newTestEntry(0, 0)
	assert.True(t, apperror.IsValidation(e.Receive(q(-1), 0)))

	require.NoError(t, e.Receive(q(5), q(2)))
	assert.Equal(t, q(7), e.TotalQuantity)

	require.NoError(t, e.Receive(0, 0))
	assert.Equal(t, q(7), e.TotalQuantity)
}

func TestEntry_ReceiveRejectsOverflow(t *testing.T) {
	tests := []struct {
		name             string
		general, reserve types.Quantity
	}{
		{"general pool", types.Quantity(math.MaxInt64), 0},
		{"reserve pool", 0, types.Quantity(math.MaxInt64)},
		{"combined total", types.Quantity(math.MaxInt64 / 2), types.Quantity(math.MaxInt64 / 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEntry(5, 5)
			before := *e
			err := e.Receive(tt.general, tt.reserve)
			assert.True(t, apperror.IsValidation(err), "got %v", err)
			assert.Equal(t, before, *e)
		})
	}
}

func TestEntry_MoveBetweenPoolsRoundTrip(t *testing.T) {
	e := newTestEntry(100, 20)

	require.NoError(t, e.MoveBetweenPools(PoolGeneral, q(30)))
	assert.Equal(t, q(70), e.GeneralQuantity)
	assert.Equal(t, q(50), e.ReserveQuantity)
	assert.Equal(t, q(120), e.TotalQuantity)

	require.NoError(t, e.MoveBetweenPools(PoolReserve, q(30)))
	assert.Equal(t, q(100), e.GeneralQuantity)
	assert.Equal(t, q(20), e.ReserveQuantity)

	require.NoError(t, e.AllocateReserve(q(15)))
	err := e.MoveBetweenPools(PoolReserve, q(6))
	assert.True(t, apperror.IsInsufficientAvailability(err))
}

// Conservation and non-negativity over a mixed operation sequence,
// including calls that are expected to fail.
func TestEntry_InvariantsHoldAcrossSequence(t *testing.T) {
	e := newTestEntry(0, 0)

	steps := []func() error{
		func() error { return e.Receive(q(50), q(10)) },
		func() error { return e.AllocateGeneral(q(30)) },
		func() error { return e.AllocateGeneral(q(30)) },
		func() error { return e.AllocateReserve(q(10)) },
		func() error { return e.ReleaseGeneralAllocation(q(20)) },
		func() error { return e.AdjustGeneral(q(-25)) },
		func() error { return e.AdjustReserve(q(-1)) },
		func() error { return e.CancelReserveAllocation(q(4)) },
		func() error { return e.AdjustReserve(q(-6)) },
		func() error { return e.ReleaseReserveAllocation(q(7)) },
		func() error { return e.MoveBetweenPools(PoolGeneral, q(100)) },
		func() error { return e.Receive(q(5), 0) },
	}

	for i, step := range steps {
		before := *e
		if err := step(); err != nil {
			assert.Equal(t, before, *e, "step %d changed the entry on failure", i)
		}
		require.NoError(t, e.CheckInvariants(), "step %d", i)
		assert.False(t, e.GeneralQuantity.IsNegative())
		assert.False(t, e.ReserveQuantity.IsNegative())
		assert.False(t, e.GeneralAllocated.IsNegative())
		assert.False(t, e.ReserveAllocated.IsNegative())
	}
}

func TestEntry_ThresholdQueries(t *testing.T) {
	e := newTestEntry(30, 10)
	require.NoError(t, e.SetThresholds(q(100), q(20)))

	assert.True(t, e.IsBelowReorderPoint())
	assert.True(t, e.IsCriticalStock(DefaultThresholds()))
	assert.False(t, e.IsCriticalStock(Thresholds{CriticalFactor: decimal.NewFromFloat(0.3)}))
	assert.True(t, e.IsReserveBelowMinimum())
	assert.True(t, decimal.NewFromInt(25).Equal(e.ReservePercentage()))

	empty := newTestEntry(0, 0)
	assert.True(t, empty.ReservePercentage().IsZero())

	assert.True(t, apperror.IsValidation(e.SetThresholds(q(-1), 0)))
}
