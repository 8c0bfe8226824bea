package numerator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corenumerator "quartermaster/internal/core/numerator"
)

type mockRow struct {
	val int64
	err error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

// mockQuerier simulates sys_sequences for a single key.
// Strict calls pass (key), cached calls pass (key, increment).
type mockQuerier struct {
	mu           sync.Mutex
	currentValue int64
	calls        int
	err          error
}

func (m *mockQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return &mockRow{err: m.err}
	}

	var increment int64 = 1
	if len(args) == 2 {
		if val, ok := args[1].(int64); ok {
			increment = val
		}
	}
	m.currentValue += increment
	return &mockRow{val: m.currentValue}
}

var period = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func TestGetNextNumber_Strict(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	cfg := corenumerator.DefaultConfig("BOQ")

	num, err := svc.GetNextNumber(ctx, cfg, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "BOQ-20261018-0001", num)

	num, err = svc.GetNextNumber(ctx, cfg, nil, period)
	require.NoError(t, err)
	assert.Equal(t, "BOQ-20261018-0002", num)
	assert.Equal(t, 2, q.calls)
}

func TestGetNextNumber_Cached(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	cfg := corenumerator.Config{Prefix: "CUS", PadWidth: 5, ResetPeriod: corenumerator.ResetYear}
	opts := &corenumerator.Options{Strategy: corenumerator.StrategyCached, RangeSize: 10}

	// First call reserves 1..10.
	num, err := svc.GetNextNumber(ctx, cfg, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "CUS-2026-00001", num)
	assert.Equal(t, int64(10), q.currentValue)

	num, err = svc.GetNextNumber(ctx, cfg, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "CUS-2026-00002", num)
	assert.Equal(t, int64(10), q.currentValue)

	for i := 0; i < 8; i++ {
		_, err = svc.GetNextNumber(ctx, cfg, opts, period)
		require.NoError(t, err)
	}

	// Range exhausted, the next call reserves 11..20.
	num, err = svc.GetNextNumber(ctx, cfg, opts, period)
	require.NoError(t, err)
	assert.Equal(t, "CUS-2026-00011", num)
	assert.Equal(t, int64(20), q.currentValue)
	assert.Equal(t, 2, q.calls)
}

func TestGetNextNumber_UsesResolvedQuerier(t *testing.T) {
	pool := &mockQuerier{}
	inTx := &mockQuerier{}
	type txKey struct{}

	svc := NewWithQuerierFunc(func(ctx context.Context) Querier {
		if ctx.Value(txKey{}) != nil {
			return inTx
		}
		return pool
	})
	cfg := corenumerator.DefaultConfig("BOQ")

	_, err := svc.GetNextNumber(context.WithValue(context.Background(), txKey{}, true), cfg, nil, period)
	require.NoError(t, err)
	assert.Equal(t, 1, inTx.calls)
	assert.Zero(t, pool.calls)
}

func TestGetNextNumber_Error(t *testing.T) {
	q := &mockQuerier{err: errors.New("connection reset")}
	svc := New(q)

	_, err := svc.GetNextNumber(context.Background(), corenumerator.DefaultConfig("BOQ"), nil, period)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict next")
}

func TestSetNextNumber_InvalidatesCache(t *testing.T) {
	q := &mockQuerier{}
	svc := New(q)
	ctx := context.Background()
	cfg := corenumerator.DefaultConfig("CUS")
	opts := &corenumerator.Options{Strategy: corenumerator.StrategyCached, RangeSize: 10}

	_, err := svc.GetNextNumber(ctx, cfg, opts, period)
	require.NoError(t, err)
	require.Len(t, svc.ranges, 1)

	require.NoError(t, svc.SetNextNumber(ctx, cfg, period, 100))
	assert.Empty(t, svc.ranges)
}
