package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	domoutbox "github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	headerEventName   = "event-name"
	headerContentType = "content-type"
	contentTypeJSON   = "application/json"
)

func encode(e domoutbox.Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("outbox: encode %s: %w", e.EventName(), err)
	}
	return body, nil
}

func eventKey(e domoutbox.Event) string {
	if k, ok := e.(domoutbox.Keyed); ok {
		return k.Key()
	}
	return ""
}

// headers returns the event metadata plus the trace context of ctx.
func headers(ctx context.Context, e domoutbox.Event) map[string]string {
	carrier := propagation.MapCarrier{
		headerEventName:   e.EventName(),
		headerContentType: contentTypeJSON,
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier
}
