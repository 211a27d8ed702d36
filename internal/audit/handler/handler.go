package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"rollcall/internal/audit"
	"rollcall/internal/http/shared"
	"rollcall/internal/platform/middleware"
	dErrors "rollcall/pkg/domain-errors"
)

const defaultFeedLimit = 50

type Service interface {
	List(ctx context.Context, q audit.Query) ([]audit.Entry, error)
}

// Handler serves the recent-changes feed, the public face of the audit log.
type Handler struct {
	logger *slog.Logger
	audits Service
}

func New(audits Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, audits: audits}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/recent-changes", h.handleRecentChanges)
}

type entryResponse struct {
	ID        uuid.UUID        `json:"id"`
	ActorID   string           `json:"actor_id"`
	PersonID  *uuid.UUID       `json:"person_id,omitempty"`
	Kind      audit.ActionKind `json:"kind"`
	VersionID *uuid.UUID       `json:"version_id,omitempty"`
	Source    string           `json:"source"`
	CreatedAt time.Time        `json:"created_at"`
}

func (h *Handler) handleRecentChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := audit.Query{Limit: defaultFeedLimit}

	params := r.URL.Query()
	if raw := params.Get("person_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid person_id"))
			return
		}
		q.PersonID = id
	}
	q.ActorID = params.Get("actor_id")
	if raw := params.Get("kind"); raw != "" {
		kind := audit.ActionKind(raw)
		if !kind.Valid() {
			shared.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "unrecognized action kind %q", raw))
			return
		}
		q.Kind = kind
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 500 {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 500"))
			return
		}
		q.Limit = limit
	}

	entries, err := h.audits.List(ctx, q)
	if err != nil {
		h.logger.ErrorContext(ctx, "recent changes listing failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to load recent changes"))
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp := entryResponse{
			ID:        e.ID,
			ActorID:   e.ActorID,
			Kind:      e.Kind,
			Source:    e.Source,
			CreatedAt: e.CreatedAt,
		}
		if e.PersonID != uuid.Nil {
			id := e.PersonID
			resp.PersonID = &id
		}
		if e.VersionID != uuid.Nil {
			id := e.VersionID
			resp.VersionID = &id
		}
		out = append(out, resp)
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"changes": out})
}
