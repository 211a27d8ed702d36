package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/audit"
	auditHandler "rollcall/internal/audit/handler"
	ballotmodels "rollcall/internal/ballots/models"
	ballotsHandler "rollcall/internal/ballots/handler"
	ballotsService "rollcall/internal/ballots/service"
	ballotstore "rollcall/internal/ballots/store"
	httpapi "rollcall/internal/http"
	"rollcall/internal/jwtactor"
	mergeapi "rollcall/internal/merge"
	mergeHandler "rollcall/internal/merge/handler"
	"rollcall/internal/people/models"
	peopleHandler "rollcall/internal/people/handler"
	peopleService "rollcall/internal/people/service"
	peoplestore "rollcall/internal/people/store"
	"rollcall/internal/platform/metrics"
	"rollcall/internal/redirect"
	"rollcall/internal/storage/memory"
)

type env struct {
	server  *httptest.Server
	tokens  *jwtactor.Service
	ballots *ballotstore.InMemoryStore
}

func newEnv(t *testing.T) *env {
	t.Helper()

	people := peoplestore.NewInMemoryStore()
	ballots := ballotstore.NewInMemoryStore()
	redirects := redirect.NewInMemoryStore()
	auditStore := audit.NewInMemoryStore()
	recorder := audit.NewRecorder(auditStore)
	runner := memory.NewRunner(people, ballots, redirects, auditStore)
	m := metrics.NewWith(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := jwtactor.New("test-key", "rollcall", "rollcall-api")

	peopleSvc := peopleService.New(people, ballots, ballots, redirects, nil, recorder, runner, m, logger, true)
	mergeSvc := mergeapi.New(people, ballots, ballots, redirects, recorder, runner, m, logger)
	ballotSvc := ballotsService.New(ballots, recorder, runner)

	router := httpapi.NewRouter(httpapi.Handlers{
		People:  peopleHandler.New(peopleSvc, logger, tokens),
		Merge:   mergeHandler.New(mergeSvc, logger, tokens),
		Ballots: ballotsHandler.New(ballotSvc, logger, tokens),
		Audit:   auditHandler.New(recorder, logger),
	}, logger, m)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &env{server: server, tokens: tokens, ballots: ballots}
}

func (e *env) token(t *testing.T, actorID string, scopes ...string) string {
	t.Helper()
	token, err := e.tokens.GenerateToken(actorID, scopes, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *env) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type mutationBody struct {
	PersonID  uuid.UUID          `json:"person_id"`
	VersionID uuid.UUID          `json:"version_id"`
	State     models.PersonState `json:"state"`
}

func TestCreateRequiresToken(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/people", "", map[string]any{"name": "Jane", "source": "src"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateRequiresEditScope(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, "alice", "people:merge")
	resp := e.do(t, http.MethodPost, "/people", token, map[string]any{"name": "Jane", "source": "src"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEditFlowOverHTTP(t *testing.T) {
	e := newEnv(t)
	token := e.token(t, "alice", "people:edit")

	resp := e.do(t, http.MethodPost, "/people", token, map[string]any{
		"name": "Jane Doe", "source": "press release",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[mutationBody](t, resp)

	// Update with the right expected version succeeds.
	resp = e.do(t, http.MethodPut, "/people/"+created.PersonID.String(), token, map[string]any{
		"name": "Jane Smith", "source": "deed poll",
		"expected_version": created.VersionID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[mutationBody](t, resp)
	assert.Equal(t, "Jane Smith", updated.State.Name)

	// A writer still holding the old version id gets a conflict.
	resp = e.do(t, http.MethodPut, "/people/"+created.PersonID.String(), token, map[string]any{
		"name": "J. Doe", "source": "src",
		"expected_version": created.VersionID,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// History is public and carries the diffs.
	resp = e.do(t, http.MethodGet, "/people/"+created.PersonID.String()+"/versions", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]map[string]any](t, resp)
	assert.Len(t, history, 2)

	// Revert restores the original name as a third version.
	resp = e.do(t, http.MethodPost, "/people/"+created.PersonID.String()+"/revert", token, map[string]any{
		"version_id": created.VersionID, "source": "undo",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reverted := decode[mutationBody](t, resp)
	assert.Equal(t, "Jane Doe", reverted.State.Name)
}

func TestMergeFlowOverHTTP(t *testing.T) {
	e := newEnv(t)
	editToken := e.token(t, "alice", "people:edit")
	mergeToken := e.token(t, "moderator", "people:merge")

	require.NoError(t, e.ballots.UpsertBallot(t.Context(), ballotmodels.Ballot{
		ID: "local.norwich.2026-05-07", ElectionSlug: "local.2026", PostSlug: "norwich",
	}))

	resp := e.do(t, http.MethodPost, "/people", editToken, map[string]any{
		"name": "Alice", "source": "src",
		"standing_in": map[string]any{
			"local.2026": map[string]any{"standing": true, "ballot_id": "local.norwich.2026-05-07"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	primary := decode[mutationBody](t, resp)

	resp = e.do(t, http.MethodPost, "/people", editToken, map[string]any{
		"name": "Alice B", "source": "src",
		"standing_in": map[string]any{
			"local.2026": map[string]any{"standing": false},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	secondary := decode[mutationBody](t, resp)

	// Blocked: the secondary explicitly disclaims the election the primary
	// stands in. The conflict list rides in the error details.
	resp = e.do(t, http.MethodPost, "/people/"+primary.PersonID.String()+"/merge", mergeToken, map[string]any{
		"secondary_id": secondary.PersonID,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	blocked := decode[map[string]any](t, resp)
	assert.Equal(t, "merge_conflict", blocked["code"])
	assert.NotEmpty(t, blocked["details"])

	// Correction: clear the marker with an ordinary edit, then retry.
	resp = e.do(t, http.MethodPut, "/people/"+secondary.PersonID.String(), editToken, map[string]any{
		"name": "Alice B", "source": "clearing wrong marker",
		"expected_version": secondary.VersionID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/people/"+primary.PersonID.String()+"/merge", mergeToken, map[string]any{
		"secondary_id": secondary.PersonID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[map[string]any](t, resp)
	assert.Equal(t, "committed", result["phase"])

	// The superseded id now serves the survivor.
	resp = e.do(t, http.MethodGet, "/people/"+secondary.PersonID.String(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	person := decode[map[string]any](t, resp)
	assert.Equal(t, primary.PersonID.String(), person["id"])
	assert.Equal(t, true, person["redirected"])

	// The merge shows up in the public feed.
	resp = e.do(t, http.MethodGet, "/recent-changes?kind=person-merge", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	feed := decode[map[string][]map[string]any](t, resp)
	assert.Len(t, feed["changes"], 1)
}

func TestMergeRequiresMergeScope(t *testing.T) {
	e := newEnv(t)
	editToken := e.token(t, "alice", "people:edit")

	resp := e.do(t, http.MethodPost, "/people/"+uuid.NewString()+"/merge", editToken, map[string]any{
		"secondary_id": uuid.New(),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBallotLockOverHTTP(t *testing.T) {
	e := newEnv(t)
	modToken := e.token(t, "moderator", "people:merge")

	resp := e.do(t, http.MethodPut, "/ballots/local.norwich.2026-05-07", modToken, map[string]any{
		"election_slug": "local.2026", "post_slug": "norwich",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/ballots/local.norwich.2026-05-07/lock", modToken, map[string]any{
		"locked": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ballot := decode[map[string]any](t, resp)
	assert.Equal(t, true, ballot["locked"])

	// A locked ballot rejects new candidacies from ordinary edits.
	editToken := e.token(t, "alice", "people:edit")
	resp = e.do(t, http.MethodPost, "/people", editToken, map[string]any{
		"name": "Jane", "source": "src",
		"standing_in": map[string]any{
			"local.2026": map[string]any{"standing": true, "ballot_id": "local.norwich.2026-05-07"},
		},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
