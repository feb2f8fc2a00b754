package memory

import (
	"context"
	"sync"
)

// Snapshotter is implemented by repositories that can roll back to an earlier state.
type Snapshotter interface {
	Snapshot() (restore func())
}

// Transactor serializes scopes and restores every participant when fn fails.
// Writes made outside a scope are not isolated from it.
type Transactor struct {
	mu           sync.Mutex
	participants []Snapshotter
}

func NewTransactor(participants ...Snapshotter) *Transactor {
	return &Transactor{participants: participants}
}

type txKey struct{}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// Nested scopes join the outer one.
	if inTx(ctx) {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	restores := make([]func(), 0, len(t.participants))
	for _, p := range t.participants {
		restores = append(restores, p.Snapshot())
	}

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*Transactor)
	return ok
}
