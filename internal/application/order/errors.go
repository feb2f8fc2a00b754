package order

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
)

var (
	ErrInvalidRequest    = errors.New("order: invalid request")
	ErrCustomerNotFound  = errors.New("order: customer not found")
	ErrProductsNotFound  = errors.New("order: products not found")
	ErrProductNotFound   = errors.New("order: product not found")
	ErrInsufficientStock = errors.New("order: insufficient product quantity")
	ErrPersistence       = errors.New("order: persistence failure")
	ErrNotFound          = domain.ErrNotFound
)

// Kinds reported by Kind.
const (
	KindInvalidRequest     = "invalid_request"
	KindCustomerNotFound   = "customer_not_found"
	KindProductsNotFound   = "products_not_found"
	KindProductNotFound    = "product_not_found"
	KindInsufficientStock  = "insufficient_stock"
	KindOrderNotFound      = "order_not_found"
	KindPersistenceFailure = "persistence_failure"
	KindCanceled           = "canceled"
	KindInternal           = "internal"
)

// ProductError ties a per-item validation failure to the offending product.
type ProductError struct {
	ProductID string
	Err       error
}

func (e *ProductError) Error() string { return fmt.Sprintf("%v: %s", e.Err, e.ProductID) }

func (e *ProductError) Unwrap() error { return e.Err }

type Stage string

const (
	StageCustomerLookup Stage = "customer_lookup"
	StageProductLookup  Stage = "product_lookup"
	StageOrderCreate    Stage = "order_create"
	StageStockUpdate    Stage = "stock_update"
	StageTransaction    Stage = "transaction"
	StageOrderLookup    Stage = "order_lookup"
	StageOrderCancel    Stage = "order_cancel"
)

// PersistenceError reports a storage failure and the step it happened in.
// It matches both ErrPersistence and the underlying storage error.
type PersistenceError struct {
	Stage Stage
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v at %s: %v", ErrPersistence, e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Kind maps err onto the order-creation failure taxonomy. A nil error has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrCustomerNotFound):
		return KindCustomerNotFound
	case errors.Is(err, ErrProductsNotFound):
		return KindProductsNotFound
	case errors.Is(err, ErrProductNotFound):
		return KindProductNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrPersistence):
		return KindPersistenceFailure
	case errors.Is(err, ErrNotFound):
		return KindOrderNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}
