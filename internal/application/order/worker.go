package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	workerService         = "order-worker"
	useCaseReconciliation = "order.worker.reconciliation_required"

	defaultCancelAttempts = 3
	defaultRetryBackoff   = 100 * time.Millisecond
)

// CompensationWorker retries the cancellation of orders whose stock write-back
// failed and whose synchronous cancellation failed as well.
type CompensationWorker struct {
	orders     domain.Store
	subscriber domoutbox.Subscriber
	tracer     observability.Tracer

	attempts int
	backoff  time.Duration

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	compCounter  observability.Counter   // order_compensations_total{action,outcome}
}

type WorkerOption func(*CompensationWorker)

// WithRetry overrides how many times a cancellation is attempted and the
// pause between attempts. The pause doubles after every failure.
func WithRetry(attempts int, backoff time.Duration) WorkerOption {
	return func(w *CompensationWorker) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if backoff >= 0 {
			w.backoff = backoff
		}
	}
}

func NewCompensationWorker(
	orders domain.Store,
	subscriber domoutbox.Subscriber,
	tel observability.Observability,
	opts ...WorkerOption,
) *CompensationWorker {
	if tel == nil {
		tel = observability.Nop()
	}
	w := &CompensationWorker{
		orders:       orders,
		subscriber:   subscriber,
		tracer:       tel.Tracer(),
		attempts:     defaultCancelAttempts,
		backoff:      defaultRetryBackoff,
		log:          tel.Logger().With(observability.F("service", workerService)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
		compCounter:  tel.Metrics().Counter(observability.MCompensations),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *CompensationWorker) Start() {
	if w.subscriber == nil || w.orders == nil {
		return
	}
	w.subscriber.Subscribe(domain.ReconciliationRequiredEvent{}.EventName(), w.HandleReconciliationRequired)
}

func (w *CompensationWorker) HandleReconciliationRequired(ctx context.Context, e domoutbox.Event) (err error) {
	evt, ok := e.(domain.ReconciliationRequiredEvent)
	if !ok {
		w.reqCounter.Add(1,
			observability.L("use_case", useCaseReconciliation),
			observability.L("outcome", "ignored"),
		)
		return nil
	}

	ctx, span := w.tracer.Start(ctx, spanPrefix+"ReconciliationRequired",
		attribute.String("use_case", useCaseReconciliation),
		attribute.String("event", e.EventName()),
		attribute.String("order.id", evt.OrderID),
	)
	start := time.Now()
	outcome, status := "success", "OK"
	attempt := 0

	ctx, logger := logctx.Enrich(ctx, w.log,
		observability.F("use_case", useCaseReconciliation),
		observability.F("event", e.EventName()),
	)

	defer func() {
		lat := time.Since(start).Seconds()
		w.reqCounter.Add(1,
			observability.L("use_case", useCaseReconciliation),
			observability.L("outcome", outcome),
		)
		w.durHistogram.Observe(lat, observability.L("use_case", useCaseReconciliation))
		w.compCounter.Add(1,
			observability.L("action", "retry_cancel_order"),
			observability.L("outcome", outcome),
		)

		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
			observability.F("order_id", evt.OrderID),
			observability.F("reason", evt.Reason),
			observability.F("attempts", attempt),
		)

		if outcome == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()
	}()

	reason := evt.Reason
	if reason == "" {
		reason = CancelReasonStockUpdateFailed
	}

	wait := w.backoff
	var lastErr error
	for attempt = 1; attempt <= w.attempts; attempt++ {
		lastErr = w.orders.Cancel(ctx, evt.OrderID, reason)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, domain.ErrNotFound) {
			outcome, status = "ignored", "ORDER_NOT_FOUND"
			return nil
		}
		logger.Warn("order_cancel_retry_failed",
			observability.F("order_id", evt.OrderID),
			observability.F("attempt", attempt),
			observability.F("error", lastErr.Error()),
		)
		if attempt == w.attempts {
			break
		}
		select {
		case <-ctx.Done():
			outcome, status = "error", "CANCELED"
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}

	outcome, status = "error", "ORDER_CANCEL_FAILED"
	return &PersistenceError{Stage: StageOrderCancel, Err: fmt.Errorf("worker: cancel order %s: %w", evt.OrderID, lastErr)}
}
