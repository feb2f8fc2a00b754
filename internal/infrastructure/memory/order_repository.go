package memory

import (
	"context"
	"fmt"
	"sync"

	apporder "github.com/Zhima-Mochi/minishop-orders/internal/application/order"
	"github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
)

type OrderRepository struct {
	mu     sync.RWMutex
	ids    apporder.IDGenerator
	orders map[string]*domain.Order
}

func NewOrderRepository(ids apporder.IDGenerator) *OrderRepository {
	return &OrderRepository{
		ids:    ids,
		orders: make(map[string]*domain.Order),
	}
}

func (r *OrderRepository) Create(ctx context.Context, c *customer.Customer, items []domain.LineItem) (*domain.Order, error) {
	_ = ctx
	if r.ids == nil {
		return nil, fmt.Errorf("order repository: id generator is required")
	}

	order, err := domain.New(r.ids.NewID(), c, items)
	if err != nil {
		return nil, fmt.Errorf("order repository: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return nil, domain.ErrConflict
	}
	r.orders[order.ID] = order.Clone()
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return order.Clone(), nil
}

func (r *OrderRepository) Cancel(ctx context.Context, id, reason string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	order.Cancel(reason)
	return nil
}

// Snapshot captures the current orders; the returned func puts them back.
func (r *OrderRepository) Snapshot() (restore func()) {
	r.mu.RLock()
	saved := make(map[string]*domain.Order, len(r.orders))
	for id, o := range r.orders {
		saved[id] = o.Clone()
	}
	r.mu.RUnlock()

	return func() {
		r.mu.Lock()
		r.orders = saved
		r.mu.Unlock()
	}
}
