// Package redirect maps superseded person ids to their surviving successor.
// Redirects are permanent and exactly one hop deep: creating A→B while B→C
// already exists rewrites to A→C at write time, and any X→A entries are
// repointed at B, so no chain ever forms.
package redirect

import (
	"context"

	"github.com/google/uuid"
)

// Store persists redirects. Create must collapse chains in both directions
// inside the caller's transaction.
type Store interface {
	Create(ctx context.Context, oldID, newID uuid.UUID) error
	Resolve(ctx context.Context, id uuid.UUID) (uuid.UUID, bool, error)
}

// Resolver answers "what is the canonical id for this person id". The
// canonical id of a live person is itself.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Canonical follows at most one redirect hop (the single-hop invariant makes
// one lookup sufficient) and reports whether a redirect was followed.
func (r *Resolver) Canonical(ctx context.Context, id uuid.UUID) (uuid.UUID, bool, error) {
	target, found, err := r.store.Resolve(ctx, id)
	if err != nil {
		return uuid.Nil, false, err
	}
	if !found {
		return id, false, nil
	}
	return target, true, nil
}
