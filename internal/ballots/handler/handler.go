package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rollcall/internal/ballots/models"
	"rollcall/internal/http/shared"
	"rollcall/internal/platform/middleware"
	dErrors "rollcall/pkg/domain-errors"
)

// ScopeLock gates ballot lock changes, granted to moderators alongside merge.
const ScopeLock = "people:merge"

type Service interface {
	Upsert(ctx context.Context, ballot models.Ballot) error
	Get(ctx context.Context, id string) (models.Ballot, error)
	SetLock(ctx context.Context, id string, locked bool, actorID, source string) (models.Ballot, error)
}

type Handler struct {
	logger    *slog.Logger
	ballots   Service
	validator middleware.TokenValidator
}

func New(ballots Service, logger *slog.Logger, validator middleware.TokenValidator) *Handler {
	return &Handler{logger: logger, ballots: ballots, validator: validator}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/ballots/{ballotID}", h.handleGet)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Put("/ballots/{ballotID}", h.handleUpsert)
		r.Post("/ballots/{ballotID}/lock", h.handleSetLock)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ballot, err := h.ballots.Get(r.Context(), chi.URLParam(r, "ballotID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, ballot)
}

type upsertPayload struct {
	ElectionSlug string `json:"election_slug"`
	ElectionName string `json:"election_name,omitempty"`
	PostSlug     string `json:"post_slug"`
	PostName     string `json:"post_name,omitempty"`
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireScope(w, r); !ok {
		return
	}

	var payload upsertPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	ballot := models.Ballot{
		ID:           chi.URLParam(r, "ballotID"),
		ElectionSlug: payload.ElectionSlug,
		ElectionName: payload.ElectionName,
		PostSlug:     payload.PostSlug,
		PostName:     payload.PostName,
	}
	if err := h.ballots.Upsert(ctx, ballot); err != nil {
		h.logger.WarnContext(ctx, "ballot upsert rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, ballot)
}

type lockPayload struct {
	Locked bool   `json:"locked"`
	Source string `json:"source,omitempty"`
}

func (h *Handler) handleSetLock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireScope(w, r)
	if !ok {
		return
	}

	var payload lockPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	ballot, err := h.ballots.SetLock(ctx, chi.URLParam(r, "ballotID"), payload.Locked, actor.ActorID, payload.Source)
	if err != nil {
		h.logger.WarnContext(ctx, "ballot lock change rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, ballot)
}

func (h *Handler) requireScope(w http.ResponseWriter, r *http.Request) (*middleware.ActorClaims, bool) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return nil, false
	}
	if !actor.HasScope(ScopeLock) {
		shared.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "missing required scope %q", ScopeLock))
		return nil, false
	}
	return actor, true
}
