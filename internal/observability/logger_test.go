package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithFields_Accumulates(t *testing.T) {
	ctx := WithFields(context.Background(), Field{"request_id", "r-1"})
	child := WithFields(ctx, Field{"order_id", int64(7)})

	assert.Len(t, getObservabilityFields(ctx), 1)
	assert.Len(t, getObservabilityFields(child), 2)
}

func TestLogger_WritesContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	ctx := WithFields(context.Background(), Field{"request_id", "r-1"})
	l.Info(ctx, "served", Field{"order_id", int64(3)})
	l.Error(ctx, "failed", errors.New("boom"))

	require.Equal(t, 2, logs.Len())
	first := logs.All()[0]
	assert.Equal(t, "served", first.Message)
	assert.Equal(t, "r-1", first.ContextMap()["request_id"])
	assert.Equal(t, int64(3), first.ContextMap()["order_id"])
	assert.Equal(t, "boom", logs.All()[1].ContextMap()["error"])
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty", false)
	require.Error(t, err)

	l, err := New("debug", true)
	require.NoError(t, err)
	require.NotNil(t, l.Zap())
}
