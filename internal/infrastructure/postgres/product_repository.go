package postgres

import (
	"context"
	"database/sql"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/product"
	"github.com/lib/pq"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// FindAllByID returns the existing products among ids. Inside a transaction
// the rows stay locked until it ends, so concurrent orders for the same
// product read and write stock one after another.
func (r *ProductRepository) FindAllByID(ctx context.Context, ids []string) ([]*domain.Product, error) {
	q := `SELECT id, name, price, quantity, updated_at FROM products WHERE id = ANY($1) ORDER BY id`
	if _, ok := txFrom(ctx); ok {
		q += ` FOR UPDATE`
	}

	rows, err := conn(ctx, r.db).QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("postgres: find products: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Product, 0, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan product: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find products: %w", err)
	}
	return out, nil
}

// UpdateQuantity writes all stock levels in one statement. When the same
// product appears more than once the last adjustment wins.
func (r *ProductRepository) UpdateQuantity(ctx context.Context, adjustments []domain.StockAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}
	const q = `
		UPDATE products AS p
		SET quantity = a.quantity, updated_at = NOW()
		FROM unnest($1::text[], $2::int[]) AS a(id, quantity)
		WHERE p.id = a.id`

	ids, quantities := collapse(adjustments)
	res, err := conn(ctx, r.db).ExecContext(ctx, q, pq.Array(ids), pq.Array(quantities))
	if err != nil {
		return fmt.Errorf("postgres: update stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update stock: %w", err)
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("postgres: update stock: %d of %d products updated: %w", n, len(ids), domain.ErrNotFound)
	}
	return nil
}

// Save upserts p.
func (r *ProductRepository) Save(ctx context.Context, p *domain.Product) error {
	const q = `
		INSERT INTO products (id, name, price, quantity, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`

	if _, err := conn(ctx, r.db).ExecContext(ctx, q, p.ID, p.Name, p.Price, p.Quantity, p.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("postgres: save product %q: %w", p.ID, err)
	}
	return nil
}

func collapse(adjustments []domain.StockAdjustment) ([]string, []int64) {
	index := make(map[string]int, len(adjustments))
	ids := make([]string, 0, len(adjustments))
	quantities := make([]int64, 0, len(adjustments))
	for _, a := range adjustments {
		if i, ok := index[a.ProductID]; ok {
			quantities[i] = int64(a.Quantity)
			continue
		}
		index[a.ProductID] = len(ids)
		ids = append(ids, a.ProductID)
		quantities = append(quantities, int64(a.Quantity))
	}
	return ids, quantities
}
