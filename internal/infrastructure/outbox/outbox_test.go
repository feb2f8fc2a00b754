package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func reconciliation() domorder.ReconciliationRequiredEvent {
	return domorder.NewReconciliationRequiredEvent("o-1", "stock_update_failed")
}

func TestBus_DeliversToEverySubscriber(t *testing.T) {
	bus := NewBus(nil, WithConcurrency(2))

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	wg.Add(2)
	for _, name := range []string{"a", "b"} {
		bus.Subscribe("order.reconciliation_required", func(_ context.Context, e domoutbox.Event) error {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name+":"+e.(domorder.ReconciliationRequiredEvent).OrderID)
			return nil
		})
	}

	bus.Start(context.Background())
	require.NoError(t, bus.Publish(context.Background(), reconciliation()))
	wg.Wait()
	bus.Stop(context.Background())

	assert.ElementsMatch(t, []string{"a:o-1", "b:o-1"}, got)
}

func TestBus_HandlersContinueThePublisherTrace(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	bus := NewBus(nil)
	seen := make(chan trace.SpanContext, 1)
	bus.Subscribe("order.reconciliation_required", func(ctx context.Context, _ domoutbox.Event) error {
		seen <- trace.SpanContextFromContext(ctx)
		return nil
	})

	bus.Start(context.Background())
	require.NoError(t, bus.Publish(ctx, reconciliation()))
	got := <-seen
	bus.Stop(context.Background())

	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
}

func TestBus_SurvivesPanickingAndFailingHandlers(t *testing.T) {
	bus := NewBus(nil)
	done := make(chan struct{})
	bus.Subscribe("order.reconciliation_required", func(context.Context, domoutbox.Event) error {
		panic("boom")
	})
	bus.Subscribe("order.reconciliation_required", func(context.Context, domoutbox.Event) error {
		return errors.New("nope")
	})
	bus.Subscribe("order.created", func(context.Context, domoutbox.Event) error {
		close(done)
		return nil
	})

	bus.Start(context.Background())
	require.NoError(t, bus.Publish(context.Background(), reconciliation()))
	require.NoError(t, bus.Publish(context.Background(), domorder.CreatedEvent{OrderID: "o-2"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second event was not delivered")
	}
	bus.Stop(context.Background())
}

func TestBus_HandlerTimeoutCancelsSlowHandlers(t *testing.T) {
	bus := NewBus(nil, WithHandlerTimeout(20*time.Millisecond))
	result := make(chan error, 1)
	bus.Subscribe("order.reconciliation_required", func(ctx context.Context, _ domoutbox.Event) error {
		select {
		case <-ctx.Done():
			result <- ctx.Err()
		case <-time.After(2 * time.Second):
			result <- nil
		}
		return nil
	})

	bus.Start(context.Background())
	require.NoError(t, bus.Publish(context.Background(), reconciliation()))
	err := <-result
	bus.Stop(context.Background())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_StopDrainsQueueAndRejectsNewEvents(t *testing.T) {
	bus := NewBus(nil)
	var (
		mu        sync.Mutex
		delivered int
	)
	bus.Subscribe("order.created", func(context.Context, domoutbox.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), domorder.CreatedEvent{}))
	}
	bus.Start(context.Background())
	bus.Stop(context.Background())

	mu.Lock()
	assert.Equal(t, 5, delivered)
	mu.Unlock()
	assert.ErrorIs(t, bus.Publish(context.Background(), domorder.CreatedEvent{}), ErrBusClosed)
}

func TestBus_PublishHonoursContextWhenQueueIsFull(t *testing.T) {
	bus := NewBus(nil, WithQueueSize(1))
	require.NoError(t, bus.Publish(context.Background(), domorder.CreatedEvent{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(ctx, domorder.CreatedEvent{}), context.DeadlineExceeded)

	bus.Stop(context.Background())
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func headerMap(hs []kafka.Header) map[string]string {
	out := map[string]string{}
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestKafkaPublisher_WritesKeyedJSONWithTraceHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	w := &fakeWriter{}
	p := NewKafkaPublisher(w)
	require.NoError(t, p.Publish(ctx, reconciliation()))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "o-1", string(msg.Key))

	var body domorder.ReconciliationRequiredEvent
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "o-1", body.OrderID)
	assert.Equal(t, "stock_update_failed", body.Reason)

	hdrs := headerMap(msg.Headers)
	assert.Equal(t, "order.reconciliation_required", hdrs["event-name"])
	assert.Equal(t, "application/json", hdrs["content-type"])
	assert.Contains(t, hdrs["traceparent"], span.SpanContext().TraceID().String())
}

func TestKafkaPublisher_WrapsWriteErrors(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{err: kafka.LeaderNotAvailable})

	err := p.Publish(context.Background(), reconciliation())
	assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
	assert.ErrorContains(t, err, "order.reconciliation_required")
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
	closed        bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return c.err
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestRabbitPublisher_RoutesByEventName(t *testing.T) {
	ch := &fakeChannel{}
	p := NewRabbitPublisher(ch, "orders")

	require.NoError(t, p.Publish(context.Background(), domorder.CreatedEvent{OrderID: "o-7", CustomerID: "C1"}))

	assert.Equal(t, "orders", ch.exchange)
	assert.Equal(t, "order.created", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "o-7", ch.msg.MessageId)
	assert.Equal(t, "order.created", ch.msg.Headers["event-name"])

	var body domorder.CreatedEvent
	require.NoError(t, json.Unmarshal(ch.msg.Body, &body))
	assert.Equal(t, "C1", body.CustomerID)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestRabbitPublisher_WrapsErrors(t *testing.T) {
	p := NewRabbitPublisher(&fakeChannel{err: amqp.ErrClosed}, "orders")

	assert.ErrorIs(t, p.Publish(context.Background(), reconciliation()), amqp.ErrClosed)
}

func TestFanout_PublishesToAllAndJoinsErrors(t *testing.T) {
	var calls []string
	ok := domoutbox.PublisherFunc(func(_ context.Context, e domoutbox.Event) error {
		calls = append(calls, "ok:"+e.EventName())
		return nil
	})
	errA := errors.New("a down")
	failing := domoutbox.PublisherFunc(func(context.Context, domoutbox.Event) error {
		calls = append(calls, "failing")
		return errA
	})

	err := Fanout{failing, nil, ok}.Publish(context.Background(), reconciliation())

	assert.ErrorIs(t, err, errA)
	assert.Equal(t, []string{"failing", "ok:order.reconciliation_required"}, calls)
	assert.NoError(t, Fanout{ok}.Publish(context.Background(), reconciliation()))
}
