package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-orders/internal/domain/product"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	orderService       = "order-service"
	useCaseOrderCreate = "order.create"
	spanPrefix         = "UC."
	publishPeer        = "outbox"
	publishTimeout     = 300 * time.Millisecond

	// CancelReasonStockUpdateFailed is recorded on orders cancelled by compensation.
	CancelReasonStockUpdateFailed = "stock_update_failed"
)

type RequestedItem struct {
	ProductID string
	Quantity  int
}

type CreateOrderInput struct {
	CustomerID string
	Items      []RequestedItem
}

// CreateOrderUseCase validates a customer and the requested products, snapshots
// prices into line items, persists the order and writes back the decremented stock.
type CreateOrderUseCase struct {
	customers customer.Directory
	catalog   product.Catalog
	orders    domain.Store
	tx        Transactor
	publisher domoutbox.Publisher
	tracer    observability.Tracer

	// Base logger with fixed fields prebound (vendor must remain hidden).
	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
	compCounter  observability.Counter   // order_compensations_total{action,outcome}
	sizeHist     observability.Histogram // order_line_items
}

// NewCreateOrderUseCase wires the dependencies required to execute the use case.
//
// When tx is nil there is no transactional scope: a stock update failing after
// the order was stored is compensated by cancelling the order, and escalated
// through an order.reconciliation_required event if the cancellation fails too.
// publisher and tel may be nil.
func NewCreateOrderUseCase(
	customers customer.Directory,
	catalog product.Catalog,
	orders domain.Store,
	tx Transactor,
	publisher domoutbox.Publisher,
	tel observability.Observability,
) *CreateOrderUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	metricsProvider := tel.Metrics()

	return &CreateOrderUseCase{
		customers:    customers,
		catalog:      catalog,
		orders:       orders,
		tx:           tx,
		publisher:    publisher,
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", orderService)),
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
		extCounter:   metricsProvider.Counter(observability.MExternalRequests),
		extHistogram: metricsProvider.Histogram(observability.MExternalRequestDuration),
		compCounter:  metricsProvider.Counter(observability.MCompensations),
		sizeHist:     metricsProvider.Histogram(observability.MOrderLineItems),
	}
}

// Execute performs the order creation flow.
func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderInput) (_ *domain.Order, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(observability.F("use_case", useCaseOrderCreate))

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"CreateOrder",
		attribute.String("use_case", useCaseOrderCreate),
		attribute.String("order.customer_id", cmd.CustomerID),
		attribute.Int("order.item_count", len(cmd.Items)),
	)
	start := time.Now()
	var orderID string
	var publishErr error

	defer func() {
		lat := time.Since(start).Seconds()
		outcome, statusText := "success", "OK"
		if err != nil {
			outcome, statusText = "error", strings.ToUpper(Kind(err))
		} else if publishErr != nil {
			statusText = "EVENT_PUBLISH_FAILED"
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseOrderCreate),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(lat,
			observability.L("use_case", useCaseOrderCreate),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
			observability.F("customer_id", cmd.CustomerID),
		}
		fields = append(fields, observability.TraceFields(ctx)...)
		if orderID != "" {
			fields = append(fields, observability.F("order_id", orderID))
		}
		if publishErr != nil {
			fields = append(fields, observability.F("event_publish_error", publishErr.Error()))
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	if err := validate(cmd); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var created *domain.Order
	if uc.tx != nil {
		var placeErr error
		txErr := uc.tx.WithinTx(ctx, func(ctx context.Context) error {
			created, placeErr = uc.place(ctx, logger, cmd, false)
			return placeErr
		})
		if placeErr != nil {
			return nil, placeErr
		}
		if txErr != nil {
			return nil, &PersistenceError{Stage: StageTransaction, Err: txErr}
		}
	} else {
		created, err = uc.place(ctx, logger, cmd, true)
		if err != nil {
			return nil, err
		}
	}
	orderID = created.ID
	uc.sizeHist.Observe(float64(len(created.LineItems)))

	publishErr = uc.publish(ctx, domain.NewCreatedEvent(created))

	span.SetAttributes(
		attribute.String("order.id", created.ID),
		attribute.String("order.total", created.Total().String()),
	)
	span.AddEvent("order.created",
		trace.WithAttributes(attribute.String("order.id", created.ID)),
	)

	return created, nil
}

// place runs lookup, validation, order persistence and the stock write-back.
// compensate is set when no transaction protects the two writes.
func (uc *CreateOrderUseCase) place(ctx context.Context, logger observability.Logger, cmd CreateOrderInput, compensate bool) (*domain.Order, error) {
	// A transaction pins a single connection, so lookups only run concurrently outside one.
	cust, found, err := uc.lookup(ctx, cmd, compensate)
	if err != nil {
		return nil, err
	}

	items, adjustments, err := reserve(cmd.Items, found)
	if err != nil {
		return nil, err
	}

	created, err := uc.orders.Create(ctx, cust, items)
	if err != nil {
		return nil, &PersistenceError{Stage: StageOrderCreate, Err: err}
	}

	if err := uc.catalog.UpdateQuantity(ctx, adjustments); err != nil {
		perr := &PersistenceError{Stage: StageStockUpdate, Err: err}
		if compensate {
			uc.compensate(ctx, logger, created, perr)
		}
		return nil, perr
	}

	return created, nil
}

func (uc *CreateOrderUseCase) lookup(ctx context.Context, cmd CreateOrderInput, concurrent bool) (*customer.Customer, []*product.Product, error) {
	var (
		cust    *customer.Customer
		found   []*product.Product
		custErr error
		prodErr error
	)
	findCustomer := func() error {
		cust, custErr = uc.customers.FindByID(ctx, cmd.CustomerID)
		return nil
	}
	findProducts := func() error {
		found, prodErr = uc.catalog.FindAllByID(ctx, distinctProductIDs(cmd.Items))
		return nil
	}

	if concurrent {
		var g errgroup.Group
		g.Go(findCustomer)
		g.Go(findProducts)
		_ = g.Wait()
	} else {
		_ = findCustomer()
		if custErr == nil {
			_ = findProducts()
		}
	}

	switch {
	case errors.Is(custErr, customer.ErrNotFound):
		return nil, nil, ErrCustomerNotFound
	case custErr != nil:
		return nil, nil, &PersistenceError{Stage: StageCustomerLookup, Err: custErr}
	case cust == nil:
		return nil, nil, ErrCustomerNotFound
	case prodErr != nil:
		return nil, nil, &PersistenceError{Stage: StageProductLookup, Err: prodErr}
	case len(found) == 0:
		return nil, nil, ErrProductsNotFound
	}
	return cust, found, nil
}

// reserve checks every requested item against the fetched snapshot and derives
// the line items and post-order stock levels. Nothing is written here.
func reserve(requested []RequestedItem, found []*product.Product) ([]domain.LineItem, []product.StockAdjustment, error) {
	byID := make(map[string]*product.Product, len(found))
	for _, p := range found {
		if p != nil {
			byID[p.ID] = p
		}
	}

	items := make([]domain.LineItem, 0, len(requested))
	adjustments := make([]product.StockAdjustment, 0, len(requested))
	for _, it := range requested {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, nil, &ProductError{ProductID: it.ProductID, Err: ErrProductNotFound}
		}
		remaining, err := p.Remaining(it.Quantity)
		if err != nil {
			if errors.Is(err, product.ErrInvalidQuantity) {
				return nil, nil, newValidation("quantity must be greater than zero")
			}
			return nil, nil, &ProductError{ProductID: it.ProductID, Err: ErrInsufficientStock}
		}
		items = append(items, domain.LineItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     p.Price,
		})
		adjustments = append(adjustments, product.StockAdjustment{
			ProductID: p.ID,
			Quantity:  remaining,
		})
	}
	return items, adjustments, nil
}

// compensate cancels an order whose stock write-back failed. If that fails as
// well the order is handed off for asynchronous reconciliation.
func (uc *CreateOrderUseCase) compensate(ctx context.Context, logger observability.Logger, o *domain.Order, cause error) {
	// The caller may already be gone; the cancellation must still happen.
	ctx = context.WithoutCancel(ctx)

	cancelErr := uc.orders.Cancel(ctx, o.ID, CancelReasonStockUpdateFailed)
	if cancelErr == nil {
		uc.compCounter.Add(1, observability.L("action", "cancel_order"), observability.L("outcome", "success"))
		logger.Warn("order_compensated",
			observability.F("order_id", o.ID),
			observability.F("reason", CancelReasonStockUpdateFailed),
			observability.F("cause", cause.Error()),
		)
		return
	}

	uc.compCounter.Add(1, observability.L("action", "cancel_order"), observability.L("outcome", "error"))
	logger.Error("order_compensation_failed",
		observability.F("order_id", o.ID),
		observability.F("cause", cause.Error()),
		observability.F("error", cancelErr.Error()),
	)

	if err := uc.publish(ctx, domain.NewReconciliationRequiredEvent(o.ID, CancelReasonStockUpdateFailed)); err != nil {
		logger.Error("reconciliation_event_publish_failed",
			observability.F("order_id", o.ID),
			observability.F("error", err.Error()),
		)
	}
}

func (uc *CreateOrderUseCase) publish(ctx context.Context, event domoutbox.Event) error {
	if uc.publisher == nil || event == nil {
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	start := time.Now()
	err := uc.publisher.Publish(pubCtx, event)
	outcome := "success"
	if err != nil {
		outcome = "error"
	} else if pubCtx.Err() != nil {
		outcome = "canceled"
		err = pubCtx.Err()
	}
	cancel()

	uc.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
		observability.L("outcome", outcome),
	)
	uc.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", event.EventName()),
	)
	return err
}

func validate(cmd CreateOrderInput) error {
	if cmd.CustomerID == "" {
		return newValidation("customer id is required")
	}
	if len(cmd.Items) == 0 {
		return newValidation("at least one product is required")
	}
	for _, it := range cmd.Items {
		if it.ProductID == "" {
			return newValidation("product id is required")
		}
		if it.Quantity <= 0 {
			return newValidation("quantity must be greater than zero")
		}
	}
	return nil
}

// distinctProductIDs keeps the first occurrence of every id, in request order.
func distinctProductIDs(items []RequestedItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}
