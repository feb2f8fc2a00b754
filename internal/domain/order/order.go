package order

import (
	"errors"
	"time"

	"github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound         = errors.New("order: not found")
	ErrConflict         = errors.New("order: conflict")
	ErrNoLineItems      = errors.New("order: at least one line item is required")
	ErrInvalidQuantity  = errors.New("order: quantity must be greater than zero")
	ErrInvalidPrice     = errors.New("order: price must be zero or greater")
	ErrCustomerRequired = errors.New("order: customer is required")
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusCancelled Status = "cancelled"
)

// LineItem snapshots the product price at the time the order was placed.
type LineItem struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Order struct {
	ID           string
	Customer     customer.Customer
	LineItems    []LineItem
	Status       Status
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func New(id string, c *customer.Customer, items []LineItem) (*Order, error) {
	if c == nil {
		return nil, ErrCustomerRequired
	}
	if err := ValidateLineItems(items); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Order{
		ID:        id,
		Customer:  *c,
		LineItems: append([]LineItem(nil), items...),
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func ValidateLineItems(items []LineItem) error {
	if len(items) == 0 {
		return ErrNoLineItems
	}
	for _, li := range items {
		if li.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if li.Price.IsNegative() {
			return ErrInvalidPrice
		}
	}
	return nil
}

func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.LineItems {
		total = total.Add(li.Subtotal())
	}
	return total
}

// Cancel marks the order as cancelled. Cancelling twice keeps the first reason.
func (o *Order) Cancel(reason string) {
	if o.Status == StatusCancelled {
		return
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.touch()
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.LineItems = append([]LineItem(nil), o.LineItems...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
