package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apporder "github.com/Zhima-Mochi/minishop-orders/internal/application/order"
	"github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/order"
)

type OrderRepository struct {
	db  *sql.DB
	ids apporder.IDGenerator
}

func NewOrderRepository(db *sql.DB, ids apporder.IDGenerator) *OrderRepository {
	return &OrderRepository{db: db, ids: ids}
}

// Create stores the order header and its line items atomically, joining the
// caller's transaction when there is one.
func (r *OrderRepository) Create(ctx context.Context, c *customer.Customer, items []domain.LineItem) (*domain.Order, error) {
	order, err := domain.New(r.ids.NewID(), c, items)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	const insertOrder = `
		INSERT INTO orders (id, customer_id, status, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	const insertItem = `
		INSERT INTO order_products (order_id, position, product_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5)`

	err = withinTx(ctx, r.db, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		if _, err := q.ExecContext(ctx, insertOrder,
			order.ID, order.Customer.ID, string(order.Status), order.CancelReason, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return fmt.Errorf("postgres: insert order %q: %w", order.ID, err)
		}
		for i, li := range order.LineItems {
			if _, err := q.ExecContext(ctx, insertItem, order.ID, i, li.ProductID, li.Quantity, li.Price); err != nil {
				return fmt.Errorf("postgres: insert order %q line %d: %w", order.ID, i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	const qOrder = `
		SELECT o.id, o.status, o.cancel_reason, o.created_at, o.updated_at,
		       c.id, c.name, c.email, c.created_at
		FROM orders o
		JOIN customers c ON c.id = o.customer_id
		WHERE o.id = $1`
	const qItems = `
		SELECT product_id, quantity, price
		FROM order_products
		WHERE order_id = $1
		ORDER BY position`

	q := conn(ctx, r.db)

	var (
		o      domain.Order
		status string
	)
	err := q.QueryRowContext(ctx, qOrder, id).Scan(
		&o.ID, &status, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
		&o.Customer.ID, &o.Customer.Name, &o.Customer.Email, &o.Customer.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find order %q: %w", id, err)
	}
	o.Status = domain.Status(status)

	rows, err := q.QueryContext(ctx, qItems, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: find order %q items: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var li domain.LineItem
		if err := rows.Scan(&li.ProductID, &li.Quantity, &li.Price); err != nil {
			return nil, fmt.Errorf("postgres: scan order %q item: %w", id, err)
		}
		o.LineItems = append(o.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find order %q items: %w", id, err)
	}
	return &o, nil
}

// Cancel keeps the first cancellation reason; cancelling again succeeds.
func (r *OrderRepository) Cancel(ctx context.Context, id, reason string) error {
	const qCancel = `
		UPDATE orders
		SET status = $2, cancel_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status <> $2`
	const qExists = `SELECT 1 FROM orders WHERE id = $1`

	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx, qCancel, id, string(domain.StatusCancelled), reason)
	if err != nil {
		return fmt.Errorf("postgres: cancel order %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: cancel order %q: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = q.QueryRowContext(ctx, qExists, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: cancel order %q: %w", id, err)
	}
	return nil
}
