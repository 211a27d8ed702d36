package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"rollcall/internal/http/shared"
	"rollcall/internal/people/models"
	"rollcall/internal/people/service"
	"rollcall/internal/platform/middleware"
	dErrors "rollcall/pkg/domain-errors"
)

// ScopeEdit gates ordinary edits and reverts.
const ScopeEdit = "people:edit"

type Service interface {
	Create(ctx context.Context, req service.EditRequest) (*service.MutationResult, error)
	Update(ctx context.Context, personID uuid.UUID, req service.EditRequest) (*service.MutationResult, error)
	Revert(ctx context.Context, personID, versionID uuid.UUID, req service.EditRequest) (*service.MutationResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Person, uuid.UUID, error)
	History(ctx context.Context, id uuid.UUID) ([]service.VersionWithChanges, error)
	GetVersion(ctx context.Context, personID, versionID uuid.UUID) (*models.VersionSnapshot, error)
}

type Handler struct {
	logger    *slog.Logger
	people    Service
	validator middleware.TokenValidator
}

func New(people Service, logger *slog.Logger, validator middleware.TokenValidator) *Handler {
	return &Handler{logger: logger, people: people, validator: validator}
}

// Register mounts the people routes. Reads are public; mutations require a
// bearer token carrying the edit scope.
func (h *Handler) Register(r chi.Router) {
	r.Get("/people/{personID}", h.handleGet)
	r.Get("/people/{personID}/versions", h.handleHistory)
	r.Get("/people/{personID}/versions/{versionID}", h.handleGetVersion)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Post("/people", h.handleCreate)
		r.Put("/people/{personID}", h.handleUpdate)
		r.Post("/people/{personID}/revert", h.handleRevert)
	})
}

// editPayload is the submitted body for create and update.
type editPayload struct {
	Name            string                     `json:"name"`
	OtherNames      []string                   `json:"other_names,omitempty"`
	Attributes      map[string]string          `json:"attributes,omitempty"`
	StandingIn      map[string]models.Standing `json:"standing_in,omitempty"`
	Parties         map[string]string          `json:"parties,omitempty"`
	Source          string                     `json:"source"`
	ExpectedVersion uuid.UUID                  `json:"expected_version,omitempty"`
}

func (p editPayload) state() models.PersonState {
	return models.PersonState{
		Name:       p.Name,
		OtherNames: p.OtherNames,
		Attributes: p.Attributes,
		StandingIn: p.StandingIn,
		Parties:    p.Parties,
	}
}

type personResponse struct {
	ID         uuid.UUID          `json:"id"`
	State      models.PersonState `json:"state"`
	VersionID  uuid.UUID          `json:"version_id"`
	MergedFrom bool               `json:"redirected,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type mutationResponse struct {
	PersonID  uuid.UUID          `json:"person_id"`
	VersionID uuid.UUID          `json:"version_id"`
	State     models.PersonState `json:"state"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireScope(w, r, ScopeEdit)
	if !ok {
		return
	}

	var payload editPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.people.Create(ctx, service.EditRequest{
		ActorID: actor.ActorID,
		Source:  payload.Source,
		IP:      clientIP(r),
		State:   payload.state(),
	})
	if err != nil {
		h.writeServiceError(ctx, w, "create person", err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, mutationResponse{
		PersonID: result.PersonID, VersionID: result.VersionID, State: result.State,
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireScope(w, r, ScopeEdit)
	if !ok {
		return
	}
	personID, ok := parseID(w, r, "personID")
	if !ok {
		return
	}

	var payload editPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if payload.ExpectedVersion == uuid.Nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "expected_version is required"))
		return
	}

	result, err := h.people.Update(ctx, personID, service.EditRequest{
		ActorID:         actor.ActorID,
		Source:          payload.Source,
		IP:              clientIP(r),
		State:           payload.state(),
		ExpectedVersion: payload.ExpectedVersion,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "update person", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, mutationResponse{
		PersonID: result.PersonID, VersionID: result.VersionID, State: result.State,
	})
}

type revertPayload struct {
	VersionID uuid.UUID `json:"version_id"`
	Source    string    `json:"source"`
}

func (h *Handler) handleRevert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireScope(w, r, ScopeEdit)
	if !ok {
		return
	}
	personID, ok := parseID(w, r, "personID")
	if !ok {
		return
	}

	var payload revertPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if payload.VersionID == uuid.Nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "version_id is required"))
		return
	}

	result, err := h.people.Revert(ctx, personID, payload.VersionID, service.EditRequest{
		ActorID: actor.ActorID,
		Source:  payload.Source,
		IP:      clientIP(r),
	})
	if err != nil {
		h.writeServiceError(ctx, w, "revert person", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, mutationResponse{
		PersonID: result.PersonID, VersionID: result.VersionID, State: result.State,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(w, r, "personID")
	if !ok {
		return
	}

	person, canonical, err := h.people.Get(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "get person", err)
		return
	}

	resp := personResponse{
		ID:        person.ID,
		State:     person.State,
		CreatedAt: person.CreatedAt,
		UpdatedAt: person.UpdatedAt,
	}
	if current := person.CurrentVersion(); current != nil {
		resp.VersionID = current.ID
	}
	resp.MergedFrom = canonical != id
	shared.WriteJSON(w, http.StatusOK, resp)
}

type versionResponse struct {
	ID        uuid.UUID          `json:"id"`
	Seq       int                `json:"seq"`
	CreatedAt time.Time          `json:"created_at"`
	Source    string             `json:"source"`
	ActorID   string             `json:"actor_id"`
	OriginID  uuid.UUID          `json:"origin_person_id"`
	State     models.PersonState `json:"state"`
	Changes   []fieldChange      `json:"changes,omitempty"`
}

type fieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := parseID(w, r, "personID")
	if !ok {
		return
	}

	history, err := h.people.History(ctx, id)
	if err != nil {
		h.writeServiceError(ctx, w, "load history", err)
		return
	}

	out := make([]versionResponse, 0, len(history))
	for _, v := range history {
		resp := versionResponse{
			ID:        v.Snapshot.ID,
			Seq:       v.Snapshot.Seq,
			CreatedAt: v.Snapshot.CreatedAt,
			Source:    v.Snapshot.Meta.Source,
			ActorID:   v.Snapshot.Meta.ActorID,
			OriginID:  v.Snapshot.Meta.OriginPersonID,
			State:     v.Snapshot.State,
		}
		for _, c := range v.Changes {
			resp.Changes = append(resp.Changes, fieldChange{Field: c.Field, Before: c.Before, After: c.After})
		}
		out = append(out, resp)
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	personID, ok := parseID(w, r, "personID")
	if !ok {
		return
	}
	versionID, ok := parseID(w, r, "versionID")
	if !ok {
		return
	}

	v, err := h.people.GetVersion(ctx, personID, versionID)
	if err != nil {
		h.writeServiceError(ctx, w, "get version", err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, versionResponse{
		ID:        v.ID,
		Seq:       v.Seq,
		CreatedAt: v.CreatedAt,
		Source:    v.Meta.Source,
		ActorID:   v.Meta.ActorID,
		OriginID:  v.Meta.OriginPersonID,
		State:     v.State,
	})
}

func (h *Handler) requireScope(w http.ResponseWriter, r *http.Request, scope string) (*middleware.ActorClaims, bool) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return nil, false
	}
	if !actor.HasScope(scope) {
		shared.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "missing required scope %q", scope))
		return nil, false
	}
	return actor, true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeTimeout:
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	default:
		h.logger.WarnContext(ctx, op+" rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
	}
	shared.WriteError(w, err)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		shared.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "invalid %s", param))
		return uuid.Nil, false
	}
	return id, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
