package store

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/ballots/models"
	"rollcall/pkg/platform/sentinel"
)

type candidacyKey struct {
	personID uuid.UUID
	ballotID string
}

// InMemoryStore holds ballots and candidacies for dev mode and tests.
type InMemoryStore struct {
	mu          sync.RWMutex
	ballots     map[string]models.Ballot
	candidacies map[candidacyKey]models.Candidacy
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		ballots:     make(map[string]models.Ballot),
		candidacies: make(map[candidacyKey]models.Candidacy),
	}
}

func (s *InMemoryStore) UpsertBallot(_ context.Context, ballot models.Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-upserting updates election/post fields only; the lock flag is owned
	// by SetLocked, matching the postgres ON CONFLICT column set.
	if existing, ok := s.ballots[ballot.ID]; ok {
		ballot.Locked = existing.Locked
	}
	s.ballots[ballot.ID] = ballot
	return nil
}

func (s *InMemoryStore) GetBallot(_ context.Context, id string) (models.Ballot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ballot, ok := s.ballots[id]
	if !ok {
		return models.Ballot{}, sentinel.ErrNotFound
	}
	return ballot, nil
}

func (s *InMemoryStore) SetLocked(_ context.Context, id string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ballot, ok := s.ballots[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	ballot.Locked = locked
	s.ballots[id] = ballot
	return nil
}

func (s *InMemoryStore) ListByPerson(_ context.Context, personID uuid.UUID) ([]models.Candidacy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Candidacy
	for key, c := range s.candidacies {
		if key.personID == personID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CreateCandidacy(_ context.Context, c models.Candidacy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := candidacyKey{personID: c.PersonID, ballotID: c.BallotID}
	if _, exists := s.candidacies[key]; exists {
		return sentinel.ErrConflict
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.candidacies[key] = c
	return nil
}

func (s *InMemoryStore) DeleteCandidacy(_ context.Context, personID uuid.UUID, ballotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := candidacyKey{personID: personID, ballotID: ballotID}
	if _, exists := s.candidacies[key]; !exists {
		return sentinel.ErrNotFound
	}
	delete(s.candidacies, key)
	return nil
}

// ReassignCandidacy moves one candidacy to a new owner, keeping party and
// elected status.
func (s *InMemoryStore) ReassignCandidacy(_ context.Context, ballotID string, from, to uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fromKey := candidacyKey{personID: from, ballotID: ballotID}
	c, ok := s.candidacies[fromKey]
	if !ok {
		return sentinel.ErrNotFound
	}
	toKey := candidacyKey{personID: to, ballotID: ballotID}
	if _, exists := s.candidacies[toKey]; exists {
		return sentinel.ErrConflict
	}
	delete(s.candidacies, fromKey)
	c.PersonID = to
	s.candidacies[toKey] = c
	return nil
}

func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return [2]any{maps.Clone(s.ballots), maps.Clone(s.candidacies)}
}

func (s *InMemoryStore) Restore(snapshot any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := snapshot.([2]any)
	s.ballots = parts[0].(map[string]models.Ballot)
	s.candidacies = parts[1].(map[candidacyKey]models.Candidacy)
}
