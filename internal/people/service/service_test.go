package service_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/audit"
	ballotmodels "rollcall/internal/ballots/models"
	ballotstore "rollcall/internal/ballots/store"
	"rollcall/internal/people/diff"
	"rollcall/internal/people/models"
	"rollcall/internal/people/service"
	peoplestore "rollcall/internal/people/store"
	"rollcall/internal/platform/metrics"
	"rollcall/internal/redirect"
	"rollcall/internal/storage/memory"
	dErrors "rollcall/pkg/domain-errors"
)

type fixture struct {
	svc        *service.Service
	people     *peoplestore.InMemoryStore
	ballots    *ballotstore.InMemoryStore
	redirects  *redirect.InMemoryStore
	auditStore *audit.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		people:     peoplestore.NewInMemoryStore(),
		ballots:    ballotstore.NewInMemoryStore(),
		redirects:  redirect.NewInMemoryStore(),
		auditStore: audit.NewInMemoryStore(),
	}
	runner := memory.NewRunner(f.people, f.ballots, f.redirects, f.auditStore)
	f.svc = service.New(
		f.people, f.ballots, f.ballots, f.redirects, nil,
		audit.NewRecorder(f.auditStore),
		runner,
		metrics.NewWith(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		true,
	)
	return f
}

func (f *fixture) addBallot(t *testing.T, id, election string, locked bool) {
	t.Helper()
	err := f.ballots.UpsertBallot(context.Background(), ballotmodels.Ballot{
		ID:           id,
		ElectionSlug: election,
		PostSlug:     "post",
		Locked:       locked,
	})
	require.NoError(t, err)
}

func standingState(name, election, ballotID string) models.PersonState {
	return models.PersonState{
		Name: name,
		StandingIn: map[string]models.Standing{
			election: {Standing: true, BallotID: ballotID},
		},
		Parties: map[string]string{election: "party:63"},
	}
}

func TestCreatePerson(t *testing.T) {
	f := newFixture(t)
	f.addBallot(t, "local.norwich.2026-05-07", "local.2026", false)
	ctx := context.Background()

	result, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice",
		Source:  "party press release",
		IP:      "203.0.113.9",
		State:   standingState("Jane Doe", "local.2026", "local.norwich.2026-05-07"),
	})
	require.NoError(t, err)

	person, _, err := f.svc.Get(ctx, result.PersonID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", person.State.Name)
	require.Len(t, person.Versions, 1)
	assert.Equal(t, result.VersionID, person.Versions[0].ID)
	assert.Equal(t, 1, person.Versions[0].Seq)
	assert.Equal(t, result.PersonID, person.Versions[0].Meta.OriginPersonID)

	candidacies, err := f.ballots.ListByPerson(ctx, result.PersonID)
	require.NoError(t, err)
	require.Len(t, candidacies, 1)
	assert.Equal(t, "local.norwich.2026-05-07", candidacies[0].BallotID)
	assert.Equal(t, "party:63", candidacies[0].PartyID)

	entries, err := f.auditStore.List(ctx, audit.Query{PersonID: result.PersonID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	kinds := []audit.ActionKind{entries[0].Kind, entries[1].Kind}
	assert.Contains(t, kinds, audit.ActionPersonCreate)
	assert.Contains(t, kinds, audit.ActionCandidacyCreate)
	for _, e := range entries {
		assert.Equal(t, "203.0.113.9", e.IP)
	}
}

func TestCreateRequiresSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), service.EditRequest{
		ActorID: "alice",
		Source:  "   ",
		State:   models.PersonState{Name: "Jane Doe"},
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestCreateUnknownBallotRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice",
		Source:  "src",
		State:   standingState("Jane Doe", "local.2026", "no-such-ballot"),
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	assert.Nil(t, result)

	entries, err := f.auditStore.List(ctx, audit.Query{})
	require.NoError(t, err)
	assert.Empty(t, entries, "failed create must leave no audit trail")
}

func TestUpdateStaleWriteRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice", Source: "src",
		State: models.PersonState{Name: "Jane Doe"},
	})
	require.NoError(t, err)

	// First editor wins.
	updated, err := f.svc.Update(ctx, created.PersonID, service.EditRequest{
		ActorID: "alice", Source: "src",
		State:           models.PersonState{Name: "Jane A. Doe"},
		ExpectedVersion: created.VersionID,
	})
	require.NoError(t, err)

	// Second editor still holds the original version id.
	_, err = f.svc.Update(ctx, created.PersonID, service.EditRequest{
		ActorID: "bob", Source: "src",
		State:           models.PersonState{Name: "J. Doe"},
		ExpectedVersion: created.VersionID,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeStaleWrite))

	person, _, err := f.svc.Get(ctx, created.PersonID)
	require.NoError(t, err)
	assert.Equal(t, "Jane A. Doe", person.State.Name)
	require.Len(t, person.Versions, 2)
	assert.Equal(t, updated.VersionID, person.Versions[1].ID)
}

func TestUpdateRenameKeepsOldName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice", Source: "src",
		State: models.PersonState{Name: "Jane Doe"},
	})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.PersonID, service.EditRequest{
		ActorID: "alice", Source: "deed poll",
		State:           models.PersonState{Name: "Jane Smith"},
		ExpectedVersion: created.VersionID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", updated.State.Name)
	assert.Contains(t, updated.State.OtherNames, "Jane Doe")
}

func TestUpdateLockedBallotForbidden(t *testing.T) {
	f := newFixture(t)
	f.addBallot(t, "local.norwich.2026-05-07", "local.2026", true)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice", Source: "src",
		State: models.PersonState{Name: "Jane Doe"},
	})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.PersonID, service.EditRequest{
		ActorID: "alice", Source: "src",
		State:           standingState("Jane Doe", "local.2026", "local.norwich.2026-05-07"),
		ExpectedVersion: created.VersionID,
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	person, _, err := f.svc.Get(ctx, created.PersonID)
	require.NoError(t, err)
	assert.Len(t, person.Versions, 1, "rejected edit must not append a version")
	candidacies, err := f.ballots.ListByPerson(ctx, created.PersonID)
	require.NoError(t, err)
	assert.Empty(t, candidacies)
}

func TestUpdateMovesCandidacyBetweenBallots(t *testing.T) {
	f := newFixture(t)
	f.addBallot(t, "local.norwich.2026-05-07", "local.2026", false)
	f.addBallot(t, "local.ipswich.2026-05-07", "local.2026", false)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice", Source: "src",
		State: standingState("Jane Doe", "local.2026", "local.norwich.2026-05-07"),
	})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.PersonID, service.EditRequest{
		ActorID: "alice", Source: "candidate moved seat",
		State:           standingState("Jane Doe", "local.2026", "local.ipswich.2026-05-07"),
		ExpectedVersion: created.VersionID,
	})
	require.NoError(t, err)

	candidacies, err := f.ballots.ListByPerson(ctx, created.PersonID)
	require.NoError(t, err)
	require.Len(t, candidacies, 1)
	assert.Equal(t, "local.ipswich.2026-05-07", candidacies[0].BallotID)
}

func TestRevertRestoresOldStateAsNewVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice", Source: "src",
		State: models.PersonState{Name: "Jane Doe", Attributes: map[string]string{"birth_date": "1975"}},
	})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.PersonID, service.EditRequest{
		ActorID: "vandal", Source: "src",
		State:           models.PersonState{Name: "XXXX"},
		ExpectedVersion: created.VersionID,
	})
	require.NoError(t, err)

	reverted, err := f.svc.Revert(ctx, created.PersonID, created.VersionID, service.EditRequest{
		ActorID: "alice", Source: "undoing vandalism",
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", reverted.State.Name)
	assert.Equal(t, "1975", reverted.State.Attributes["birth_date"])

	// The bad version stays in the log; the revert is a fresh append.
	person, _, err := f.svc.Get(ctx, created.PersonID)
	require.NoError(t, err)
	require.Len(t, person.Versions, 3)
	assert.Equal(t, updated.VersionID, person.Versions[1].ID)
	assert.Equal(t, reverted.VersionID, person.Versions[2].ID)
	assert.Equal(t, "undoing vandalism", person.Versions[2].Meta.Source)
}

func TestRevertRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice", Source: "src",
		State: models.PersonState{Name: "Jane Doe", Attributes: map[string]string{"email": "jane@example.org"}},
	})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, created.PersonID, service.EditRequest{
		ActorID: "alice", Source: "deed poll",
		State:           models.PersonState{Name: "Jane Smith"},
		ExpectedVersion: created.VersionID,
	})
	require.NoError(t, err)

	// Revert to the first version, then revert that revert.
	_, err = f.svc.Revert(ctx, created.PersonID, created.VersionID, service.EditRequest{
		ActorID: "alice", Source: "undo",
	})
	require.NoError(t, err)

	restored, err := f.svc.Revert(ctx, created.PersonID, updated.VersionID, service.EditRequest{
		ActorID: "alice", Source: "redo",
	})
	require.NoError(t, err)

	// Back where we started: no field differs from the pre-revert state, and
	// both reverts were appended rather than rewinding the log.
	assert.Empty(t, diff.Changes(updated.State, restored.State))

	person, _, err := f.svc.Get(ctx, created.PersonID)
	require.NoError(t, err)
	assert.Len(t, person.Versions, 4)
	assert.Equal(t, "Jane Smith", person.State.Name)
}

func TestGetFollowsRedirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice", Source: "src",
		State: models.PersonState{Name: "Jane Doe"},
	})
	require.NoError(t, err)

	oldID := uuid.New()
	require.NoError(t, f.redirects.Create(ctx, oldID, created.PersonID))

	person, canonical, err := f.svc.Get(ctx, oldID)
	require.NoError(t, err)
	assert.Equal(t, created.PersonID, canonical)
	assert.Equal(t, created.PersonID, person.ID)
}

func TestHistoryCarriesDiffs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "alice", Source: "src",
		State: models.PersonState{Name: "Jane Doe"},
	})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, created.PersonID, service.EditRequest{
		ActorID: "alice", Source: "src",
		State:           models.PersonState{Name: "Jane Doe", Attributes: map[string]string{"email": "jane@example.org"}},
		ExpectedVersion: created.VersionID,
	})
	require.NoError(t, err)

	history, err := f.svc.History(ctx, created.PersonID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	require.NotEmpty(t, history[0].Changes)
	assert.Equal(t, "name", history[0].Changes[0].Field)

	require.Len(t, history[1].Changes, 1)
	assert.Equal(t, "attributes.email", history[1].Changes[0].Field)
}

func TestBotActorIPNotRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Create(ctx, service.EditRequest{
		ActorID: "bot:twfy-importer",
		Source:  "nightly import",
		IP:      "203.0.113.9",
		State:   models.PersonState{Name: "Jane Doe"},
	})
	require.NoError(t, err)

	entries, err := f.auditStore.List(ctx, audit.Query{PersonID: result.PersonID})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Empty(t, e.IP)
	}
	person, _, err := f.svc.Get(ctx, result.PersonID)
	require.NoError(t, err)
	assert.Empty(t, person.Versions[0].Meta.IP)
}

func TestEditsDisallowed(t *testing.T) {
	f := newFixture(t)
	svc := service.New(
		f.people, f.ballots, f.ballots, f.redirects, nil,
		audit.NewRecorder(f.auditStore),
		memory.NewRunner(f.people, f.ballots, f.redirects, f.auditStore),
		metrics.NewWith(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		false,
	)
	_, err := svc.Create(context.Background(), service.EditRequest{
		ActorID: "alice", Source: "src",
		State: models.PersonState{Name: "Jane Doe"},
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}
