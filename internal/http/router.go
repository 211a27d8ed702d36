// Package httpapi assembles the full route table. Handlers stay thin and
// delegate to the domain services; everything transport-wide (recovery,
// request ids, logging, latency) is applied here once.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auditHandler "rollcall/internal/audit/handler"
	ballotsHandler "rollcall/internal/ballots/handler"
	mergeHandler "rollcall/internal/merge/handler"
	peopleHandler "rollcall/internal/people/handler"
	"rollcall/internal/platform/metrics"
	"rollcall/internal/platform/middleware"
)

type Handlers struct {
	People  *peopleHandler.Handler
	Merge   *mergeHandler.Handler
	Ballots *ballotsHandler.Handler
	Audit   *auditHandler.Handler
}

func NewRouter(h Handlers, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.LatencyMiddleware(m))

	h.People.Register(r)
	h.Merge.Register(r)
	h.Ballots.Register(r)
	h.Audit.Register(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
