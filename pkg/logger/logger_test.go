package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "quartermaster/internal/core/context"
)

func TestContextLoggerCarriesTraceAndCaller(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := WithLogger(context.Background(), NewFromCore(core).WithComponent("ledger"))
	ctx = appctx.WithTrace(ctx, &appctx.TraceContext{TraceID: "t-1", RequestID: "r-1"})
	ctx = appctx.WithUser(ctx, &appctx.UserContext{UserID: "sk-1", DepartmentID: "depot-3"})

	Info(ctx, "stock received", "quantity", "5.0000")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "ledger", fields["component"])
	assert.Equal(t, "t-1", fields["trace_id"])
	assert.Equal(t, "r-1", fields["request_id"])
	assert.Equal(t, "sk-1", fields["user_id"])
	assert.Equal(t, "depot-3", fields["department_id"])
	assert.Equal(t, "5.0000", fields["quantity"])
	assert.NotContains(t, fields, "admin")
}

func TestDefaultLoggerIsReplaceable(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetDefault(NewFromCore(core))
	t.Cleanup(func() { SetDefault(nil) })

	Debug(context.Background(), "below level")
	Warn(context.Background(), "reserve below minimum")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "reserve below minimum", logs.All()[0].Message)
}

func TestNewFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "chatty", Process: "worker"})
	require.NoError(t, err)
	assert.False(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))
}
