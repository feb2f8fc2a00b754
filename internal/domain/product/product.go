package product

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("product: not found")
	ErrInvalidQuantity   = errors.New("product: quantity must be greater than zero")
	ErrInvalidPrice      = errors.New("product: price must be zero or greater")
	ErrNegativeStock     = errors.New("product: stock must be zero or greater")
	ErrInsufficientStock = errors.New("product: insufficient stock")
)

type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Quantity  int
	UpdatedAt time.Time
}

func New(id, name string, price decimal.Decimal, quantity int) (*Product, error) {
	if price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if quantity < 0 {
		return nil, ErrNegativeStock
	}
	return &Product{
		ID:        id,
		Name:      name,
		Price:     price,
		Quantity:  quantity,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Remaining reports the stock level left after taking quantity units.
// The product itself is not modified.
func (p *Product) Remaining(quantity int) (int, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	if quantity > p.Quantity {
		return 0, ErrInsufficientStock
	}
	return p.Quantity - quantity, nil
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// StockAdjustment carries the absolute stock level to write back for a product.
type StockAdjustment struct {
	ProductID string
	Quantity  int
}
