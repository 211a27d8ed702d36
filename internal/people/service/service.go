package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/audit"
	ballotmodels "rollcall/internal/ballots/models"
	"rollcall/internal/people/diff"
	"rollcall/internal/people/models"
	"rollcall/internal/platform/metrics"
	"rollcall/internal/redirect"
	"rollcall/internal/storage"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

// Store is the slice of the people store this service mutates. It carries no
// delete: history only ever grows.
type Store interface {
	Create(ctx context.Context, person *models.Person) error
	Get(ctx context.Context, id uuid.UUID) (*models.Person, error)
	AppendVersion(ctx context.Context, personID uuid.UUID, snap models.VersionSnapshot, newState models.PersonState) (models.VersionSnapshot, error)
}

// CandidacyStore is the candidacy surface ordinary edits need. Reassignment
// is merge-only and deliberately absent here.
type CandidacyStore interface {
	ListByPerson(ctx context.Context, personID uuid.UUID) ([]ballotmodels.Candidacy, error)
	CreateCandidacy(ctx context.Context, c ballotmodels.Candidacy) error
	DeleteCandidacy(ctx context.Context, personID uuid.UUID, ballotID string) error
}

type BallotStore interface {
	GetBallot(ctx context.Context, id string) (ballotmodels.Ballot, error)
}

type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service owns the append-only version log for candidate records: create,
// update with lost-update protection, and revert. It keeps candidacy rows in
// step with the standing_in entries of the state it commits.
type Service struct {
	store        Store
	candidacies  CandidacyStore
	ballots      BallotStore
	resolver     *redirect.Resolver
	lookup       *redirect.Resolver
	auditor      Recorder
	tx           storage.TxRunner
	metrics      *metrics.Metrics
	logger       *slog.Logger
	editsAllowed bool
}

// New wires the service. redirects must be the authoritative store (it runs
// inside mutating transactions); lookup may be a cache-wrapped store for the
// read path and falls back to redirects when nil.
func New(
	store Store,
	candidacies CandidacyStore,
	ballots BallotStore,
	redirects redirect.Store,
	lookup redirect.Store,
	auditor Recorder,
	tx storage.TxRunner,
	m *metrics.Metrics,
	logger *slog.Logger,
	editsAllowed bool,
) *Service {
	resolver := redirect.NewResolver(redirects)
	lookupResolver := resolver
	if lookup != nil {
		lookupResolver = redirect.NewResolver(lookup)
	}
	return &Service{
		store:        store,
		candidacies:  candidacies,
		ballots:      ballots,
		resolver:     resolver,
		lookup:       lookupResolver,
		auditor:      auditor,
		tx:           tx,
		metrics:      m,
		logger:       logger,
		editsAllowed: editsAllowed,
	}
}

// EditRequest is one submitted state change. Source is the free-text
// justification every mutation must carry.
type EditRequest struct {
	ActorID string
	Source  string
	IP      string
	State   models.PersonState
	// ExpectedVersion is the version id the editor loaded before making the
	// change. Updates fail with a stale-write error when it no longer matches.
	ExpectedVersion uuid.UUID
}

// MutationResult reports the outcome of a committed mutation.
type MutationResult struct {
	PersonID  uuid.UUID
	VersionID uuid.UUID
	State     models.PersonState
}

func (s *Service) Create(ctx context.Context, req EditRequest) (*MutationResult, error) {
	if err := s.checkEdit(req.ActorID, req.Source); err != nil {
		return nil, err
	}
	if err := req.State.Validate(); err != nil {
		return nil, err
	}

	var result MutationResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := time.Now()
		person := &models.Person{
			ID:        uuid.New(),
			State:     req.State.Clone(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.Create(ctx, person); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "create person")
		}

		snap, err := s.appendSnapshot(ctx, person.ID, req, now)
		if err != nil {
			return err
		}

		if _, err := s.syncCandidacies(ctx, person.ID, models.PersonState{}, req.State, req, snap.ID, false); err != nil {
			return err
		}

		if err := s.auditor.Record(ctx, audit.Entry{
			ActorID:   req.ActorID,
			PersonID:  person.ID,
			Kind:      audit.ActionPersonCreate,
			VersionID: snap.ID,
			Source:    req.Source,
			IP:        s.clientIP(req),
		}); err != nil {
			return err
		}

		result = MutationResult{PersonID: person.ID, VersionID: snap.ID, State: snap.State}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PeopleCreated.Inc()
	return &result, nil
}

func (s *Service) Update(ctx context.Context, personID uuid.UUID, req EditRequest) (*MutationResult, error) {
	if err := s.checkEdit(req.ActorID, req.Source); err != nil {
		return nil, err
	}
	if err := req.State.Validate(); err != nil {
		return nil, err
	}

	var result MutationResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		person, err := s.loadLive(ctx, personID, s.resolver)
		if err != nil {
			return err
		}

		current := person.CurrentVersion()
		if current == nil || current.ID != req.ExpectedVersion {
			s.metrics.StaleWrites.Inc()
			return dErrors.Newf(dErrors.CodeStaleWrite,
				"person %s changed since it was loaded; reload and retry", person.ID)
		}

		newState := req.State.Clone()
		// An edit that renames keeps the old name findable.
		if person.State.Name != newState.Name && !slices.Contains(newState.OtherNames, person.State.Name) {
			newState.OtherNames = append(newState.OtherNames, person.State.Name)
		}

		now := time.Now()
		reqWithState := req
		reqWithState.State = newState
		snap, err := s.appendSnapshot(ctx, person.ID, reqWithState, now)
		if err != nil {
			return err
		}

		if _, err := s.syncCandidacies(ctx, person.ID, person.State, newState, req, snap.ID, false); err != nil {
			return err
		}

		if err := s.auditor.Record(ctx, audit.Entry{
			ActorID:   req.ActorID,
			PersonID:  person.ID,
			Kind:      audit.ActionPersonUpdate,
			VersionID: snap.ID,
			Source:    req.Source,
			IP:        s.clientIP(req),
		}); err != nil {
			return err
		}

		result = MutationResult{PersonID: person.ID, VersionID: snap.ID, State: snap.State}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.PeopleUpdated.Inc()
	return &result, nil
}

// Revert applies a prior snapshot's full state as the new current state by
// appending a new snapshot. The log never rewinds.
func (s *Service) Revert(ctx context.Context, personID, versionID uuid.UUID, req EditRequest) (*MutationResult, error) {
	if err := s.checkEdit(req.ActorID, req.Source); err != nil {
		return nil, err
	}

	var result MutationResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		person, err := s.loadLive(ctx, personID, s.resolver)
		if err != nil {
			return err
		}

		target := person.Version(versionID)
		if target == nil {
			return dErrors.Newf(dErrors.CodeNotFound,
				"version %s not found for person %s", versionID, person.ID)
		}

		now := time.Now()
		reqWithState := req
		reqWithState.State = target.State.Clone()
		snap, err := s.appendSnapshot(ctx, person.ID, reqWithState, now)
		if err != nil {
			return err
		}

		// Reverts are ordinary edits as far as ballot locking is concerned.
		if _, err := s.syncCandidacies(ctx, person.ID, person.State, snap.State, req, snap.ID, false); err != nil {
			return err
		}

		if err := s.auditor.Record(ctx, audit.Entry{
			ActorID:   req.ActorID,
			PersonID:  person.ID,
			Kind:      audit.ActionPersonRevert,
			VersionID: snap.ID,
			Source:    req.Source,
			IP:        s.clientIP(req),
		}); err != nil {
			return err
		}

		result = MutationResult{PersonID: person.ID, VersionID: snap.ID, State: snap.State}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Reverts.Inc()
	return &result, nil
}

// Get returns the person behind id, following redirects. The second return
// is the canonical id, which differs from id when a redirect was followed.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Person, uuid.UUID, error) {
	person, err := s.loadLive(ctx, id, s.lookup)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return person, person.ID, nil
}

// VersionWithChanges pairs a snapshot with its diff against the previous one.
type VersionWithChanges struct {
	Snapshot models.VersionSnapshot
	Changes  []diff.FieldChange
}

// History lists a person's versions chronologically, each annotated with the
// field changes it introduced.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]VersionWithChanges, error) {
	person, err := s.loadLive(ctx, id, s.lookup)
	if err != nil {
		return nil, err
	}

	out := make([]VersionWithChanges, 0, len(person.Versions))
	prev := models.PersonState{}
	for _, v := range person.Versions {
		out = append(out, VersionWithChanges{
			Snapshot: v,
			Changes:  diff.Changes(prev, v.State),
		})
		prev = v.State
	}
	return out, nil
}

// GetVersion returns a single snapshot.
func (s *Service) GetVersion(ctx context.Context, personID, versionID uuid.UUID) (*models.VersionSnapshot, error) {
	person, err := s.loadLive(ctx, personID, s.lookup)
	if err != nil {
		return nil, err
	}
	v := person.Version(versionID)
	if v == nil {
		return nil, dErrors.Newf(dErrors.CodeNotFound,
			"version %s not found for person %s", versionID, person.ID)
	}
	return v, nil
}

// loadLive resolves redirects, loads the person, and follows a tombstone's
// merged-into pointer once in case the resolver served a stale cache entry.
func (s *Service) loadLive(ctx context.Context, id uuid.UUID, resolver *redirect.Resolver) (*models.Person, error) {
	canonical, _, err := resolver.Canonical(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve redirect")
	}

	person, err := s.store.Get(ctx, canonical)
	if err != nil {
		if err == sentinel.ErrNotFound {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "person %s not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load person")
	}

	if !person.Live() {
		person, err = s.store.Get(ctx, *person.MergedInto)
		if err != nil || !person.Live() {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "person %s not found", id)
		}
	}
	return person, nil
}

func (s *Service) appendSnapshot(ctx context.Context, personID uuid.UUID, req EditRequest, now time.Time) (models.VersionSnapshot, error) {
	snap := models.VersionSnapshot{
		ID:        uuid.New(),
		CreatedAt: now,
		Meta: models.VersionMeta{
			Source:         req.Source,
			ActorID:        req.ActorID,
			IP:             s.clientIP(req),
			OriginPersonID: personID,
		},
	}
	stored, err := s.store.AppendVersion(ctx, personID, snap, req.State)
	if err != nil {
		if err == sentinel.ErrInvalidState {
			return models.VersionSnapshot{}, dErrors.Newf(dErrors.CodeNotFound,
				"person %s has been merged away", personID)
		}
		return models.VersionSnapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "append version")
	}
	return stored, nil
}

func (s *Service) checkEdit(actorID, source string) error {
	if !s.editsAllowed {
		return dErrors.New(dErrors.CodeForbidden, "edits are currently disallowed")
	}
	if actorID == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "mutation requires an actor")
	}
	if strings.TrimSpace(source) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "mutation requires a source")
	}
	return nil
}

// clientIP drops the submitted IP for bot actors; only human-submitted edits
// record one.
func (s *Service) clientIP(req EditRequest) string {
	if strings.HasPrefix(req.ActorID, "bot:") {
		return ""
	}
	return req.IP
}
