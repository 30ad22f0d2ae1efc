package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "rendezvous", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestSpanHelpers_NoProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.operation")
	require.NotNil(t, span)
	defer span.End()

	AddSpanAttributes(ctx, attribute.String("test.key", "value"))
	RecordError(ctx, errors.New("boom"))
	MeasureDuration(ctx, time.Now().Add(-5*time.Millisecond), "test.operation")
	assert.Equal(t, span, SpanFromContext(ctx))
}

func TestTraceHelpers(t *testing.T) {
	ctx := context.Background()

	_, span := TraceHTTPRequest(ctx, "GET", "/connections")
	require.NotNil(t, span)
	span.End()

	_, span = TraceWebSocketMessage(ctx, "ready", "conn-1")
	require.NotNil(t, span)
	span.End()

	_, span = TracePresenceOperation(ctx, "flush", 3)
	require.NotNil(t, span)
	span.End()
}
