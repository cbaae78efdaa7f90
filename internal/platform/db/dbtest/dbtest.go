// Package dbtest provides test doubles for the db package.
package dbtest

import (
	"context"
	"sync"
)

type heldKey struct{}

// SerialTx satisfies db.TxRunner for in-memory repositories. Transactions
// run one at a time, so check-then-act sequences inside WithinTx behave as
// they would under row locks. Nested calls join the outer transaction.
type SerialTx struct {
	mu sync.Mutex

	statsMu   sync.Mutex
	commits   int
	rollbacks int
}

func (r *SerialTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(heldKey{}) != nil {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := fn(context.WithValue(ctx, heldKey{}, true))

	r.statsMu.Lock()
	if err != nil {
		r.rollbacks++
	} else {
		r.commits++
	}
	r.statsMu.Unlock()
	return err
}

func (r *SerialTx) Commits() int {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.commits
}

func (r *SerialTx) Rollbacks() int {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.rollbacks
}

// InTx reports whether ctx is inside a SerialTx transaction.
func InTx(ctx context.Context) bool { return ctx.Value(heldKey{}) != nil }
