package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/product"
)

type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		products: make(map[string]*domain.Product),
	}
}

func (r *ProductRepository) Save(ctx context.Context, p *domain.Product) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("product repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[p.ID] = p.Clone()
	return nil
}

func (r *ProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

// FindAllByID returns the known products among ids, in the order of ids.
// Unknown ids are skipped.
func (r *ProductRepository) FindAllByID(ctx context.Context, ids []string) ([]*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.products[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

// UpdateQuantity validates every adjustment before applying any of them.
func (r *ProductRepository) UpdateQuantity(ctx context.Context, adjustments []domain.StockAdjustment) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range adjustments {
		if _, ok := r.products[a.ProductID]; !ok {
			return fmt.Errorf("product repository: update %s: %w", a.ProductID, domain.ErrNotFound)
		}
		if a.Quantity < 0 {
			return fmt.Errorf("product repository: update %s: %w", a.ProductID, domain.ErrNegativeStock)
		}
	}

	now := time.Now().UTC()
	for _, a := range adjustments {
		p := r.products[a.ProductID]
		p.Quantity = a.Quantity
		p.UpdatedAt = now
	}
	return nil
}

// Snapshot captures the current products; the returned func puts them back.
func (r *ProductRepository) Snapshot() (restore func()) {
	r.mu.RLock()
	saved := make(map[string]*domain.Product, len(r.products))
	for id, p := range r.products {
		saved[id] = p.Clone()
	}
	r.mu.RUnlock()

	return func() {
		r.mu.Lock()
		r.products = saved
		r.mu.Unlock()
	}
}
