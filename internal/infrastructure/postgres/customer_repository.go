package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/minishop-orders/internal/domain/customer"
)

type CustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	const q = `SELECT id, name, email, created_at FROM customers WHERE id = $1`

	var c domain.Customer
	err := conn(ctx, r.db).QueryRowContext(ctx, q, id).Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find customer %q: %w", id, err)
	}
	return &c, nil
}

// Save upserts c. Used for seeding and by account management outside this service.
func (r *CustomerRepository) Save(ctx context.Context, c *domain.Customer) error {
	const q = `
		INSERT INTO customers (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`

	if _, err := conn(ctx, r.db).ExecContext(ctx, q, c.ID, c.Name, c.Email, c.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("postgres: save customer %q: %w", c.ID, err)
	}
	return nil
}
