package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/people/models"
	"rollcall/pkg/platform/sentinel"
)

// InMemoryStore keeps people and their version histories in memory for dev
// mode and tests. Writes are serialized by the memory tx runner; the local
// mutex covers direct reads.
type InMemoryStore struct {
	mu     sync.RWMutex
	people map[uuid.UUID]*models.Person
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{people: make(map[uuid.UUID]*models.Person)}
}

func (s *InMemoryStore) Create(_ context.Context, person *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.people[person.ID]; exists {
		return sentinel.ErrConflict
	}
	s.people[person.ID] = clonePerson(person)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	person, ok := s.people[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clonePerson(person), nil
}

func (s *InMemoryStore) AppendVersion(_ context.Context, personID uuid.UUID, snap models.VersionSnapshot, newState models.PersonState) (models.VersionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	person, ok := s.people[personID]
	if !ok {
		return models.VersionSnapshot{}, sentinel.ErrNotFound
	}
	if person.MergedInto != nil {
		return models.VersionSnapshot{}, sentinel.ErrInvalidState
	}

	snap.PersonID = personID
	snap.Seq = nextSeq(person.Versions)
	snap.State = newState.Clone()
	person.Versions = append(person.Versions, snap)
	person.State = newState.Clone()
	person.UpdatedAt = snap.CreatedAt
	return snap, nil
}

func (s *InMemoryStore) ReassignVersions(_ context.Context, from, to uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.people[from]
	if !ok {
		return sentinel.ErrNotFound
	}
	target, ok := s.people[to]
	if !ok {
		return sentinel.ErrNotFound
	}

	for i := range source.Versions {
		moved := source.Versions[i]
		moved.PersonID = to
		target.Versions = append(target.Versions, moved)
	}
	source.Versions = nil
	models.SortVersions(target.Versions)
	return nil
}

func (s *InMemoryStore) Tombstone(_ context.Context, id, into uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	person, ok := s.people[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if person.MergedInto != nil {
		return sentinel.ErrInvalidState
	}
	person.MergedInto = &into
	person.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]*models.Person, len(s.people))
	for id, person := range s.people {
		out[id] = clonePerson(person)
	}
	return out
}

func (s *InMemoryStore) Restore(snapshot any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people = snapshot.(map[uuid.UUID]*models.Person)
}

func nextSeq(versions []models.VersionSnapshot) int {
	max := 0
	for _, v := range versions {
		if v.Seq > max {
			max = v.Seq
		}
	}
	return max + 1
}

func clonePerson(p *models.Person) *models.Person {
	out := *p
	out.State = p.State.Clone()
	out.Versions = slices.Clone(p.Versions)
	for i := range out.Versions {
		out.Versions[i].State = out.Versions[i].State.Clone()
	}
	if p.MergedInto != nil {
		into := *p.MergedInto
		out.MergedInto = &into
	}
	return &out
}
