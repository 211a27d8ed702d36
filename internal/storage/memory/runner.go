package memory

import (
	"context"
	"sync"
	"time"

	"rollcall/internal/storage"
	dErrors "rollcall/pkg/domain-errors"
)

// defaultTxTimeout bounds a transaction when the caller set no deadline.
const defaultTxTimeout = 5 * time.Second

// Runner provides the transactional boundary for the in-memory stores. A
// single mutex serializes transactions; before running the callback it
// snapshots every registered store so a failing transaction can be rolled
// back wholesale. Coarse, but whole-store snapshots are exactly what rollback
// needs and the in-memory stores only serve dev mode and tests.
type Runner struct {
	mu      sync.Mutex
	stores  []storage.Snapshotter
	timeout time.Duration
}

func NewRunner(stores ...storage.Snapshotter) *Runner {
	return &Runner{stores: stores, timeout: defaultTxTimeout}
}

// Register adds a store to the rollback set. Must be called before the first
// transaction runs.
func (r *Runner) Register(s storage.Snapshotter) {
	r.stores = append(r.stores, s)
}

func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	snapshots := make([]any, len(r.stores))
	for i, s := range r.stores {
		snapshots[i] = s.Snapshot()
	}

	if err := fn(ctx); err != nil {
		for i, s := range r.stores {
			s.Restore(snapshots[i])
		}
		return err
	}
	return nil
}
