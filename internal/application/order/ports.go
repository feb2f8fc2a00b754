package order

import (
	"context"
)

type IDGenerator interface {
	NewID() string
}

// Transactor runs fn inside a transactional scope. The context passed to fn
// carries the scope; repositories that share the transactor pick it up from there.
// An error returned by fn rolls the scope back and is returned unchanged.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
