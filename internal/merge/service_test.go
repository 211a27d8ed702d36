package merge_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/audit"
	ballotmodels "rollcall/internal/ballots/models"
	ballotstore "rollcall/internal/ballots/store"
	"rollcall/internal/merge"
	"rollcall/internal/people/models"
	peoplestore "rollcall/internal/people/store"
	"rollcall/internal/platform/metrics"
	"rollcall/internal/redirect"
	"rollcall/internal/storage/memory"
	dErrors "rollcall/pkg/domain-errors"
)

type fixture struct {
	svc        *merge.Service
	people     *peoplestore.InMemoryStore
	ballots    *ballotstore.InMemoryStore
	redirects  *redirect.InMemoryStore
	auditStore *audit.InMemoryStore
	recorder   merge.Recorder
	runner     *memory.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		people:     peoplestore.NewInMemoryStore(),
		ballots:    ballotstore.NewInMemoryStore(),
		redirects:  redirect.NewInMemoryStore(),
		auditStore: audit.NewInMemoryStore(),
	}
	f.recorder = audit.NewRecorder(f.auditStore)
	f.runner = memory.NewRunner(f.people, f.ballots, f.redirects, f.auditStore)
	f.svc = f.newService(f.recorder)
	return f
}

func (f *fixture) newService(recorder merge.Recorder) *merge.Service {
	return merge.New(
		f.people, f.ballots, f.ballots, f.redirects, recorder, f.runner,
		metrics.NewWith(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func (f *fixture) addBallot(t *testing.T, id, election string, locked bool) {
	t.Helper()
	require.NoError(t, f.ballots.UpsertBallot(context.Background(), ballotmodels.Ballot{
		ID: id, ElectionSlug: election, PostSlug: "post", Locked: locked,
	}))
}

// seedPerson creates a person with one snapshot per state, an hour apart.
func (f *fixture) seedPerson(t *testing.T, states ...models.PersonState) *models.Person {
	t.Helper()
	require.NotEmpty(t, states)
	ctx := context.Background()

	person := &models.Person{
		ID:        uuid.New(),
		State:     states[0],
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.people.Create(ctx, person))

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, state := range states {
		_, err := f.people.AppendVersion(ctx, person.ID, models.VersionSnapshot{
			ID:        uuid.New(),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Meta:      models.VersionMeta{Source: "seed", ActorID: "seeder", OriginPersonID: person.ID},
		}, state)
		require.NoError(t, err)
	}

	loaded, err := f.people.Get(ctx, person.ID)
	require.NoError(t, err)
	return loaded
}

func (f *fixture) addCandidacy(t *testing.T, personID uuid.UUID, ballotID, election string) {
	t.Helper()
	require.NoError(t, f.ballots.CreateCandidacy(context.Background(), ballotmodels.Candidacy{
		PersonID: personID, BallotID: ballotID, ElectionSlug: election,
	}))
}

func standing(election, ballotID string) models.Standing {
	return models.Standing{Standing: true, BallotID: ballotID}
}

func TestMergeBlockedThenSucceedsAfterCorrection(t *testing.T) {
	f := newFixture(t)
	f.addBallot(t, "b1", "e1", false)
	ctx := context.Background()

	a := f.seedPerson(t, models.PersonState{
		Name:       "Alice",
		StandingIn: map[string]models.Standing{"e1": standing("e1", "b1")},
	})
	f.addCandidacy(t, a.ID, "b1", "e1")
	b := f.seedPerson(t, models.PersonState{
		Name:       "Alice B",
		StandingIn: map[string]models.Standing{"e1": {Standing: false}},
	})

	_, err := f.svc.Merge(ctx, a.ID, b.ID, merge.Request{ActorID: "moderator"})
	require.Error(t, err)
	require.True(t, dErrors.HasCode(err, dErrors.CodeMergeConflict))

	conflicts, ok := dErrors.Details(err).([]merge.ConflictDescriptor)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "e1", conflicts[0].ElectionSlug)
	assert.Equal(t, a.ID, conflicts[0].StandingPersonID)
	assert.Equal(t, b.ID, conflicts[0].NotStandingPersonID)

	// Correction: an ordinary edit clears the not-standing marker.
	_, err = f.people.AppendVersion(ctx, b.ID, models.VersionSnapshot{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		Meta:      models.VersionMeta{Source: "correction", ActorID: "moderator", OriginPersonID: b.ID},
	}, models.PersonState{Name: "Alice B"})
	require.NoError(t, err)

	result, err := f.svc.Merge(ctx, a.ID, b.ID, merge.Request{ActorID: "moderator"})
	require.NoError(t, err)
	assert.Equal(t, merge.PhaseCommitted, result.Phase)
	assert.Equal(t, a.ID, result.PrimaryID)
	assert.Equal(t, b.ID, result.SecondaryID)

	// Redirect B→A exists and B is tombstoned.
	target, found, err := f.redirects.Resolve(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, a.ID, target)

	tombstoned, err := f.people.Get(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, tombstoned.MergedInto)
	assert.Equal(t, a.ID, *tombstoned.MergedInto)

	// Exactly one person-merge entry, on the primary.
	entries, err := f.auditStore.List(ctx, audit.Query{Kind: audit.ActionPersonMerge})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, a.ID, entries[0].PersonID)
	assert.Equal(t, result.VersionID, entries[0].VersionID)

	// The secondary's name survives as an other-name.
	merged, err := f.people.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", merged.State.Name)
	assert.Contains(t, merged.State.OtherNames, "Alice B")
}

func TestMergeConcatenatesHistoriesChronologically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.seedPerson(t,
		models.PersonState{Name: "Alice"},
		models.PersonState{Name: "Alice", Attributes: map[string]string{"email": "a@example.org"}},
	)
	b := f.seedPerson(t, models.PersonState{Name: "Alice B"})

	result, err := f.svc.Merge(ctx, a.ID, b.ID, merge.Request{ActorID: "moderator"})
	require.NoError(t, err)

	merged, err := f.people.Get(ctx, a.ID)
	require.NoError(t, err)
	// 2 from A, 1 from B, plus the merge version itself.
	require.Len(t, merged.Versions, 4)
	assert.Equal(t, result.VersionID, merged.Versions[3].ID)

	// Provenance survives: B's snapshot still names B as its origin.
	origins := map[uuid.UUID]int{}
	for _, v := range merged.Versions {
		origins[v.Meta.OriginPersonID]++
	}
	assert.Equal(t, 3, origins[a.ID])
	assert.Equal(t, 1, origins[b.ID])

	// Chronological order is maintained across the concatenation.
	for i := 1; i < len(merged.Versions); i++ {
		assert.False(t, merged.Versions[i].CreatedAt.Before(merged.Versions[i-1].CreatedAt))
	}
}

func TestMergePrimaryWinsOnSharedBallot(t *testing.T) {
	f := newFixture(t)
	f.addBallot(t, "b1", "e1", false)
	f.addBallot(t, "b2", "e2", false)
	ctx := context.Background()

	a := f.seedPerson(t, models.PersonState{
		Name:       "Alice",
		StandingIn: map[string]models.Standing{"e1": standing("e1", "b1")},
		Parties:    map[string]string{"e1": "party:63"},
	})
	f.addCandidacy(t, a.ID, "b1", "e1")

	b := f.seedPerson(t, models.PersonState{
		Name: "Alice B",
		StandingIn: map[string]models.Standing{
			"e1": standing("e1", "b1"),
			"e2": standing("e2", "b2"),
		},
		Parties: map[string]string{"e1": "party:90", "e2": "party:90"},
	})
	f.addCandidacy(t, b.ID, "b1", "e1")
	f.addCandidacy(t, b.ID, "b2", "e2")

	result, err := f.svc.Merge(ctx, a.ID, b.ID, merge.Request{ActorID: "moderator"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b2"}, result.MovedCandidacies)
	assert.Equal(t, []string{"b1"}, result.DiscardedCandidacies)

	candidacies, err := f.ballots.ListByPerson(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, candidacies, 2)
	leftover, err := f.ballots.ListByPerson(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, leftover)

	// The discard is audited as a candidacy-delete referencing the merge.
	entries, err := f.auditStore.List(ctx, audit.Query{Kind: audit.ActionCandidacyDelete})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, result.VersionID, entries[0].VersionID)

	// Primary's party wins on the contested election, secondary fills e2.
	merged, err := f.people.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "party:63", merged.State.Parties["e1"])
	assert.Equal(t, "party:90", merged.State.Parties["e2"])
}

func TestMergeReportsTouchedLockedBallots(t *testing.T) {
	f := newFixture(t)
	f.addBallot(t, "b1", "e1", true)
	ctx := context.Background()

	a := f.seedPerson(t, models.PersonState{Name: "Alice"})
	b := f.seedPerson(t, models.PersonState{
		Name:       "Alice B",
		StandingIn: map[string]models.Standing{"e1": standing("e1", "b1")},
	})
	f.addCandidacy(t, b.ID, "b1", "e1")

	result, err := f.svc.Merge(ctx, a.ID, b.ID, merge.Request{ActorID: "moderator"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, result.MovedCandidacies)
	assert.Equal(t, []string{"b1"}, result.TouchedLockedBallots)
}

func TestMergeSelfRejected(t *testing.T) {
	f := newFixture(t)
	a := f.seedPerson(t, models.PersonState{Name: "Alice"})

	_, err := f.svc.Merge(context.Background(), a.ID, a.ID, merge.Request{ActorID: "moderator"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidMerge))
}

func TestMergeFollowsRedirectsBeforeOperating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.seedPerson(t, models.PersonState{Name: "Alice"})
	b := f.seedPerson(t, models.PersonState{Name: "Alice B"})
	c := f.seedPerson(t, models.PersonState{Name: "Alice C"})

	_, err := f.svc.Merge(ctx, a.ID, b.ID, merge.Request{ActorID: "moderator"})
	require.NoError(t, err)

	// Merging into the superseded id must land on its survivor.
	result, err := f.svc.Merge(ctx, b.ID, c.ID, merge.Request{ActorID: "moderator"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, result.PrimaryID)

	// Both redirects point straight at the survivor: no chains.
	for _, old := range []uuid.UUID{b.ID, c.ID} {
		target, found, err := f.redirects.Resolve(ctx, old)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, a.ID, target)
	}
}

// failAfter lets the first n records through, then errors, so a late merge
// step fails after earlier steps already wrote.
type failAfter struct {
	inner merge.Recorder
	left  int
}

func (r *failAfter) Record(ctx context.Context, entry audit.Entry) error {
	if r.left <= 0 {
		return dErrors.New(dErrors.CodeInternal, "injected audit failure")
	}
	r.left--
	return r.inner.Record(ctx, entry)
}

func TestMergeFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.addBallot(t, "b2", "e2", false)
	ctx := context.Background()

	a := f.seedPerson(t, models.PersonState{Name: "Alice"})
	b := f.seedPerson(t, models.PersonState{
		Name:       "Alice B",
		StandingIn: map[string]models.Standing{"e2": standing("e2", "b2")},
	})
	f.addCandidacy(t, b.ID, "b2", "e2")

	svc := f.newService(&failAfter{inner: f.recorder, left: 0})
	_, err := svc.Merge(ctx, a.ID, b.ID, merge.Request{ActorID: "moderator"})
	require.Error(t, err)

	// Everything rolled back: candidacy still B's, no redirect, B live,
	// A's history untouched, no audit entries beyond the seeds.
	candidacies, err := f.ballots.ListByPerson(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, candidacies, 1)

	_, found, err := f.redirects.Resolve(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, found)

	bReloaded, err := f.people.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, bReloaded.Live())
	assert.Len(t, bReloaded.Versions, 1)

	aReloaded, err := f.people.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, aReloaded.Versions, 1)

	entries, err := f.auditStore.List(ctx, audit.Query{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPreviewConflicts(t *testing.T) {
	f := newFixture(t)
	f.addBallot(t, "b1", "e1", false)
	ctx := context.Background()

	a := f.seedPerson(t, models.PersonState{
		Name:       "Alice",
		StandingIn: map[string]models.Standing{"e1": standing("e1", "b1")},
	})
	f.addCandidacy(t, a.ID, "b1", "e1")
	b := f.seedPerson(t, models.PersonState{
		Name:       "Alice B",
		StandingIn: map[string]models.Standing{"e1": {Standing: false}},
	})

	conflicts, err := f.svc.PreviewConflicts(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "e1", conflicts[0].ElectionSlug)

	// Preview writes nothing.
	bReloaded, err := f.people.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, bReloaded.Live())
}
