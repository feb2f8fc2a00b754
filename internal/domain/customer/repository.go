package customer

import "context"

// Directory resolves customers by identifier. Implementations return ErrNotFound when absent.
type Directory interface {
	FindByID(ctx context.Context, id string) (*Customer, error)
}
