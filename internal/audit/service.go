package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	dErrors "rollcall/pkg/domain-errors"
)

// Store persists audit entries. Append-only: no update or delete exists on
// this interface, and none may be added.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, q Query) ([]Entry, error)
}

// Recorder validates and appends audit entries. It is the only path by which
// mutating services record actions; it rides whatever transaction is in the
// caller's context so an entry never outlives a rolled-back mutation.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if !entry.Kind.Valid() {
		return dErrors.Newf(dErrors.CodeBadRequest, "unrecognized audit action kind %q", entry.Kind)
	}
	if entry.ActorID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "audit entry requires an actor")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return r.store.Append(ctx, entry)
}

func (r *Recorder) List(ctx context.Context, q Query) ([]Entry, error) {
	return r.store.List(ctx, q)
}
