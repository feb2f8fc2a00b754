package product

import "context"

// Catalog is the product store consumed by order creation.
type Catalog interface {
	// FindAllByID returns the products that exist among ids. Missing ids are
	// simply absent from the result.
	FindAllByID(ctx context.Context, ids []string) ([]*Product, error)
	// UpdateQuantity writes every adjustment or none of them.
	UpdateQuantity(ctx context.Context, adjustments []StockAdjustment) error
}
