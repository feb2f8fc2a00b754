package order

import (
	"time"

	"github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	"github.com/shopspring/decimal"
)

var (
	_ outbox.Keyed = CreatedEvent{}
	_ outbox.Keyed = ReconciliationRequiredEvent{}
)

// CreatedEvent is emitted once an order and its stock adjustments are durable.
type CreatedEvent struct {
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Items      []EventItem     `json:"items"`
	Total      decimal.Decimal `json:"total"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type EventItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (CreatedEvent) EventName() string { return "order.created" }

func (e CreatedEvent) Key() string { return e.OrderID }

func NewCreatedEvent(o *Order) CreatedEvent {
	items := make([]EventItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, EventItem{ProductID: li.ProductID, Quantity: li.Quantity, Price: li.Price})
	}
	return CreatedEvent{
		OrderID:    o.ID,
		CustomerID: o.Customer.ID,
		Items:      items,
		Total:      o.Total(),
		OccurredAt: time.Now().UTC(),
	}
}

// ReconciliationRequiredEvent is emitted when an order was persisted but its
// stock could not be decremented and the order could not be cancelled either.
type ReconciliationRequiredEvent struct {
	OrderID    string    `json:"order_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (ReconciliationRequiredEvent) EventName() string { return "order.reconciliation_required" }

func (e ReconciliationRequiredEvent) Key() string { return e.OrderID }

func NewReconciliationRequiredEvent(orderID, reason string) ReconciliationRequiredEvent {
	return ReconciliationRequiredEvent{
		OrderID:    orderID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}
