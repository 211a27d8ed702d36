package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"rollcall/internal/http/shared"
	"rollcall/internal/merge"
	"rollcall/internal/platform/middleware"
	dErrors "rollcall/pkg/domain-errors"
)

// ScopeMerge gates identity merges, a more trusted operation than editing.
const ScopeMerge = "people:merge"

type Service interface {
	Merge(ctx context.Context, primaryID, secondaryID uuid.UUID, req merge.Request) (*merge.Result, error)
	PreviewConflicts(ctx context.Context, primaryID, secondaryID uuid.UUID) ([]merge.ConflictDescriptor, error)
}

type Handler struct {
	logger    *slog.Logger
	merges    Service
	validator middleware.TokenValidator
}

func New(merges Service, logger *slog.Logger, validator middleware.TokenValidator) *Handler {
	return &Handler{logger: logger, merges: merges, validator: validator}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.With(middleware.ContentTypeJSON).Post("/people/{personID}/merge", h.handleMerge)
		r.Get("/people/{personID}/merge/conflicts", h.handlePreviewConflicts)
	})
}

type mergePayload struct {
	SecondaryID uuid.UUID `json:"secondary_id"`
	Source      string    `json:"source,omitempty"`
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireScope(w, r)
	if !ok {
		return
	}
	primaryID, ok := parseID(w, r, "personID")
	if !ok {
		return
	}

	var payload mergePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if payload.SecondaryID == uuid.Nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "secondary_id is required"))
		return
	}

	result, err := h.merges.Merge(ctx, primaryID, payload.SecondaryID, merge.Request{
		ActorID: actor.ActorID,
		Source:  payload.Source,
		IP:      clientIP(r),
	})
	if err != nil {
		// A blocked merge is the expected first phase of the flow, not a
		// server fault; the conflict list rides in the error details.
		switch dErrors.CodeOf(err) {
		case dErrors.CodeInternal, dErrors.CodeTimeout:
			h.logger.ErrorContext(ctx, "merge failed",
				"request_id", middleware.GetRequestID(ctx),
				"error", err.Error(),
			)
		default:
			h.logger.WarnContext(ctx, "merge not committed",
				"request_id", middleware.GetRequestID(ctx),
				"error", err.Error(),
			)
		}
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePreviewConflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.requireScope(w, r); !ok {
		return
	}
	primaryID, ok := parseID(w, r, "personID")
	if !ok {
		return
	}
	secondaryID, err := uuid.Parse(r.URL.Query().Get("secondary_id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid secondary_id"))
		return
	}

	conflicts, err := h.merges.PreviewConflicts(ctx, primaryID, secondaryID)
	if err != nil {
		h.logger.WarnContext(ctx, "conflict preview failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []merge.ConflictDescriptor{}
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (h *Handler) requireScope(w http.ResponseWriter, r *http.Request) (*middleware.ActorClaims, bool) {
	actor := middleware.GetActor(r.Context())
	if actor == nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return nil, false
	}
	if !actor.HasScope(ScopeMerge) {
		shared.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "missing required scope %q", ScopeMerge))
		return nil, false
	}
	return actor, true
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
