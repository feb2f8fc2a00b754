package workerpresentation

import (
	"context"
	"testing"

	domorder "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-orders/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type directSubscriber struct {
	handlers map[string]domoutbox.Handler
}

func (d *directSubscriber) Subscribe(name string, h domoutbox.Handler) {
	d.handlers[name] = h
}

func TestWithEventContext_AddsEventAndTraceFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "handle")
	defer span.End()

	ctx = WithEventContext(ctx, zaplogger.FromZap(zap.New(core)), map[string]string{
		"event_id": "evt-1",
		"event":    "order.created",
		"empty":    "",
	})
	logctx.From(ctx).Info("handled")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "evt-1", fields["event_id"])
	assert.Equal(t, "order.created", fields["event"])
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.NotContains(t, fields, "empty")
}

func TestWithEventContext_GeneratesEventID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	ctx := WithEventContext(context.Background(), zaplogger.FromZap(zap.New(core)), nil)
	logctx.From(ctx).Info("handled")

	assert.NotEmpty(t, logs.All()[0].ContextMap()["event_id"])
}

func TestSubscriber_InjectsLoggerIntoHandlers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	inner := &directSubscriber{handlers: map[string]domoutbox.Handler{}}
	sub := Subscriber(inner, zaplogger.FromZap(zap.New(core)))

	sub.Subscribe("order.reconciliation_required", func(ctx context.Context, _ domoutbox.Event) error {
		logctx.From(ctx).Info("handled")
		return nil
	})

	h := inner.handlers["order.reconciliation_required"]
	require.NotNil(t, h)
	require.NoError(t, h(context.Background(), domorder.NewReconciliationRequiredEvent("o-1", "x")))

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "order.reconciliation_required", fields["event"])
	assert.Equal(t, "o-1", fields["event_key"])
}
