package numerator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGenerator_ResetsDaily(t *testing.T) {
	g := NewMemoryGenerator()
	ctx := context.Background()
	cfg := DefaultConfig("BOQ")
	day1 := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	n1, err := g.GetNextNumber(ctx, cfg, nil, day1)
	require.NoError(t, err)
	n2, err := g.GetNextNumber(ctx, cfg, nil, day1)
	require.NoError(t, err)
	n3, err := g.GetNextNumber(ctx, cfg, nil, day2)
	require.NoError(t, err)

	assert.Equal(t, "BOQ-20261018-0001", n1)
	assert.Equal(t, "BOQ-20261018-0002", n2)
	assert.Equal(t, "BOQ-20261019-0001", n3)
}

func TestMemoryGenerator_SetNextNumber(t *testing.T) {
	g := NewMemoryGenerator()
	ctx := context.Background()
	cfg := Config{Prefix: "CUS", PadWidth: 5, ResetPeriod: ResetNever}
	now := time.Now()

	require.NoError(t, g.SetNextNumber(ctx, cfg, now, 41))
	n, err := g.GetNextNumber(ctx, cfg, nil, now)
	require.NoError(t, err)
	assert.Equal(t, "CUS-00042", n)
}
