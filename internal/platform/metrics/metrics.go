package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	PeopleCreated  prometheus.Counter
	PeopleUpdated  prometheus.Counter
	Reverts        prometheus.Counter
	Merges         prometheus.Counter
	MergeConflicts prometheus.Counter
	StaleWrites    prometheus.Counter
	AuditPublished prometheus.Counter
	AuditDropped   prometheus.Counter
	RequestLatency *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers against a caller-supplied registerer so tests can use a
// fresh registry per case.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PeopleCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_people_created_total",
			Help: "Total number of candidate records created",
		}),
		PeopleUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_people_updated_total",
			Help: "Total number of candidate record edits committed",
		}),
		Reverts: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_reverts_total",
			Help: "Total number of version reverts committed",
		}),
		Merges: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_merges_total",
			Help: "Total number of person merges committed",
		}),
		MergeConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_merge_conflicts_total",
			Help: "Total number of merges blocked on standing conflicts",
		}),
		StaleWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_stale_writes_total",
			Help: "Total number of edits rejected by lost-update protection",
		}),
		AuditPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_audit_published_total",
			Help: "Total number of audit entries published to the fanout topic",
		}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_audit_publish_failures_total",
			Help: "Total number of audit fanout publish failures",
		}),
		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollcall_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}
