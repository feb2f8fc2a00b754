package order

import (
	"context"

	"github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
)

// Store persists orders. Create assigns the identifier and timestamps.
type Store interface {
	Create(ctx context.Context, c *customer.Customer, items []LineItem) (*Order, error)
	FindByID(ctx context.Context, id string) (*Order, error)
	// Cancel is idempotent; cancelling an already cancelled order succeeds.
	Cancel(ctx context.Context, id, reason string) error
}
