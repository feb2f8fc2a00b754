package order

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const useCaseOrderGet = "order.get"

type GetOrderUseCase struct {
	orders domain.Store
	tracer observability.Tracer

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
}

func NewGetOrderUseCase(orders domain.Store, tel observability.Observability) *GetOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	return &GetOrderUseCase{
		orders:       orders,
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", orderService)),
		reqCounter:   tel.Metrics().Counter(observability.MUsecaseRequests),
		durHistogram: tel.Metrics().Histogram(observability.MUsecaseDuration),
	}
}

func (uc *GetOrderUseCase) Execute(ctx context.Context, id string) (_ *domain.Order, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseOrderGet))
	ctx, span := uc.tracer.Start(ctx, spanPrefix+"GetOrder",
		attribute.String("use_case", useCaseOrderGet),
		attribute.String("order.id", id),
	)
	start := time.Now()

	defer func() {
		lat := time.Since(start).Seconds()
		outcome, statusText := "success", "OK"
		if err != nil {
			outcome, statusText = "error", strings.ToUpper(Kind(err))
			// A missing order is a client error, not a failure of this service.
			if errors.Is(err, ErrNotFound) {
				outcome = "not_found"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseOrderGet),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat, observability.L("use_case", useCaseOrderGet))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
			observability.F("order_id", id),
		}
		fields = append(fields, observability.TraceFields(ctx)...)
		logger.Debug("use_case_done", fields...)
	}()

	if id == "" {
		return nil, newValidation("order id is required")
	}

	o, err := uc.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Stage: StageOrderLookup, Err: err}
	}
	return o, nil
}
