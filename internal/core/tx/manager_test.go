package tx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAfterCommit_RunsImmediatelyWithoutTransaction(t *testing.T) {
	called := false
	AfterCommit(context.Background(), func(context.Context) { called = true })
	assert.True(t, called)
}

func TestAfterCommit_DeferredUntilRun(t *testing.T) {
	ctx, hooks := WithHooks(context.Background())

	var order []int
	AfterCommit(ctx, func(context.Context) { order = append(order, 1) })
	AfterCommit(ctx, func(context.Context) { order = append(order, 2) })

	assert.Empty(t, order)
	assert.Equal(t, 2, hooks.Len())

	hooks.Run(context.Background())
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 0, hooks.Len())

	// second run is a no-op
	hooks.Run(context.Background())
	assert.Equal(t, []int{1, 2}, order)
}
