package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-orders/internal/application"
	appOrder "github.com/Zhima-Mochi/minishop-orders/internal/application/order"
	domainOrder "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	createOrder application.UseCase[appOrder.CreateOrderInput, *domainOrder.Order]
	getOrder    application.UseCase[string, *domainOrder.Order]
	log         observability.Logger
	tel         observability.Observability
}

const (
	componentHTTPHandler = "http_server"
	headerTenantID       = "X-Tenant-ID"
	maxBodyBytes         = 1 << 20
)

func NewHandler(
	createOrder application.UseCase[appOrder.CreateOrderInput, *domainOrder.Order],
	getOrder application.UseCase[string, *domainOrder.Order],
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		createOrder: createOrder,
		getOrder:    getOrder,
		log:         tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:         tel,
	}
}

// Router returns the API routes. Callers may mount more handlers (e.g. /metrics) on it.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Trace → request logger + metrics → access log → handler
	r.Method(http.MethodPost, "/orders", h.route("POST /orders", h.handleCreateOrder))
	r.Method(http.MethodGet, "/orders/{id}", h.route("GET /orders/{id}", h.handleGetOrder))
	r.Method(http.MethodGet, "/health", h.route("GET /health", h.handleHealth))

	return r
}

func (h *Handler) route(route string, handler http.HandlerFunc) http.Handler {
	wrapped := h.withTrace(
		ObservabilityMiddleware(
			h.log,
			middleware.GetReqID,
			func(r *http.Request) string {
				return r.Header.Get(headerTenantID)
			},
			h.tel,
		)(
			h.withAccessLog(handler),
		),
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Stable route template for low-cardinality labels
		wrapped.ServeHTTP(w, r.WithContext(contextWithRoute(r.Context(), route)))
	})
}

type orderProductRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type createOrderRequest struct {
	CustomerID string                `json:"customer_id"`
	Products   []orderProductRequest `json:"products"`
}

type customerResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type orderProductResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}

type orderResponse struct {
	ID            string                 `json:"id"`
	Customer      customerResponse       `json:"customer"`
	Status        domainOrder.Status     `json:"status"`
	CancelReason  string                 `json:"cancel_reason,omitempty"`
	OrderProducts []orderProductResponse `json:"order_products"`
	Total         string                 `json:"total"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toOrderResponse(o *domainOrder.Order) orderResponse {
	products := make([]orderProductResponse, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		products = append(products, orderProductResponse{
			ProductID: li.ProductID,
			Quantity:  li.Quantity,
			Price:     li.Price.StringFixed(2),
		})
	}
	return orderResponse{
		ID: o.ID,
		Customer: customerResponse{
			ID:    o.Customer.ID,
			Name:  o.Customer.Name,
			Email: o.Customer.Email,
		},
		Status:        o.Status,
		CancelReason:  o.CancelReason,
		OrderProducts: products,
		Total:         o.Total().StringFixed(2),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, appOrder.KindInvalidRequest, err.Error())
		return
	}

	items := make([]appOrder.RequestedItem, 0, len(req.Products))
	for _, p := range req.Products {
		items = append(items, appOrder.RequestedItem{ProductID: p.ID, Quantity: p.Quantity})
	}

	order, err := h.createOrder.Execute(r.Context(), appOrder.CreateOrderInput{
		CustomerID: req.CustomerID,
		Items:      items,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/orders/"+order.ID)
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.getOrder.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", routeFromContext(r.Context())),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("minishop.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := routeFromContext(parentCtx)
		spanName := route
		if spanName == "unknown" {
			spanName = r.Method + " " + r.URL.Path
		}
		template := route
		if idx := strings.Index(template, " "); idx >= 0 {
			template = template[idx+1:]
		}
		if template == "unknown" || template == "" {
			template = r.URL.Path
		}

		ctxWithSpan, span := tracer.Start(parentCtx,
			spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", template),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r.WithContext(ctxWithSpan))

		span.SetAttributes(attribute.Int("http.status_code", lrw.status))
		if lrw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(lrw.status))
		}
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if decoder.More() {
		return errors.New("invalid request body: unexpected data after JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	ProductID string `json:"product_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func statusForKind(kind string) int {
	switch kind {
	case appOrder.KindInvalidRequest:
		return http.StatusBadRequest
	case appOrder.KindCustomerNotFound,
		appOrder.KindProductsNotFound,
		appOrder.KindProductNotFound,
		appOrder.KindOrderNotFound:
		return http.StatusNotFound
	case appOrder.KindInsufficientStock:
		return http.StatusConflict
	case appOrder.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError maps use case errors to responses. Server-side failures are
// logged and answered with a generic message.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := appOrder.Kind(err)
	status := statusForKind(kind)

	body := errorResponse{Error: err.Error(), Kind: kind}
	var perr *appOrder.ProductError
	if errors.As(err, &perr) {
		body.ProductID = perr.ProductID
	}
	if status >= http.StatusInternalServerError {
		logctx.FromOr(r.Context(), h.log).Error("request_failed",
			observability.F("kind", kind),
			observability.F("error", err.Error()),
		)
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

type routeKey struct{}

// contextWithRoute stores the stable route template in the context so downstream
// metrics/logging can rely on low-cardinality values.
func contextWithRoute(ctx context.Context, route string) context.Context {
	if route == "" {
		return ctx
	}
	return context.WithValue(ctx, routeKey{}, route)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	if route, ok := ctx.Value(routeKey{}).(string); ok && route != "" {
		return route
	}
	return "unknown"
}
