package workerpresentation

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability/logctx"
	"github.com/google/uuid"
)

// WithEventContext injects a request-scoped logger for background/worker executions.
// Dynamic fields only: trace_id/span_id from ctx (if valid), event_id (generated if empty),
// plus caller-provided low-cardinality attributes (e.g. "event", "tenant_id").
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	attrs map[string]string, // keep this low-cardinality: event name, tenant, shard, queue, etc.
) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}

	fields := make([]observability.Field, 0, len(attrs)+3)

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))
	fields = append(fields, observability.TraceFields(ctx)...)

	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}

type subscriber struct {
	next domoutbox.Subscriber
	base observability.Logger
}

// Subscriber decorates next so every handler runs with an event-scoped logger.
func Subscriber(next domoutbox.Subscriber, base observability.Logger) domoutbox.Subscriber {
	return &subscriber{next: next, base: base}
}

func (s *subscriber) Subscribe(eventName string, h domoutbox.Handler) {
	s.next.Subscribe(eventName, func(ctx context.Context, e domoutbox.Event) error {
		attrs := map[string]string{"event": eventName}
		if k, ok := e.(domoutbox.Keyed); ok {
			attrs["event_key"] = k.Key()
		}
		return h(WithEventContext(ctx, s.base, attrs), e)
	})
}
