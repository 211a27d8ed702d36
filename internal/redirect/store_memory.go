package redirect

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"rollcall/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	redirects map[uuid.UUID]uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{redirects: make(map[uuid.UUID]uuid.UUID)}
}

func (s *InMemoryStore) Create(_ context.Context, oldID, newID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Collapse forward: if the target is itself redirected, point past it.
	if target, ok := s.redirects[newID]; ok {
		newID = target
	}
	if oldID == newID {
		return sentinel.ErrInvalidState
	}
	// Collapse backward: repoint anything that redirected to oldID.
	for from, to := range s.redirects {
		if to == oldID {
			s.redirects[from] = newID
		}
	}
	s.redirects[oldID] = newID
	return nil
}

func (s *InMemoryStore) Resolve(_ context.Context, id uuid.UUID) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.redirects[id]
	return target, ok, nil
}

func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.redirects)
}

func (s *InMemoryStore) Restore(snapshot any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects = snapshot.(map[uuid.UUID]uuid.UUID)
}
