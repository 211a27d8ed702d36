package storage

import "context"

// TxRunner is the atomic unit every mutating flow runs inside: state change,
// relation change, redirect creation, and audit append either all commit or
// all roll back. Implementations wrap a database transaction or, in-memory,
// a coarse lock with snapshot/rollback.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Snapshotter is implemented by in-memory stores so the memory TxRunner can
// capture and restore their state across a rolled-back transaction.
type Snapshotter interface {
	Snapshot() any
	Restore(snapshot any)
}
