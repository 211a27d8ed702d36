package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/platform/metrics"
)

//go:generate mockgen -source=worker.go -destination=mocks/mocks.go -package=mocks

// OutboxSource is the slice of the outbox store the worker needs.
type OutboxSource interface {
	UnpublishedBatch(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Publisher delivers a batch of audit payloads to the fanout transport.
type Publisher interface {
	Publish(ctx context.Context, keys []string, payloads [][]byte) error
}

// Worker drains the audit outbox into the fanout topic. Publish failures
// leave rows unpublished so the next tick retries them; the mutation that
// produced them has already committed.
type Worker struct {
	source    OutboxSource
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
}

// WorkerOption tweaks worker defaults.
type WorkerOption func(*Worker)

// WithInterval overrides the drain tick.
func WithInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

func NewWorker(source OutboxSource, publisher Publisher, logger *slog.Logger, m *metrics.Metrics, opts ...WorkerOption) *Worker {
	w := &Worker{
		source:    source,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		interval:  time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.ErrorContext(ctx, "audit outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) drainOnce(ctx context.Context) error {
	for {
		batch, err := w.source.UnpublishedBatch(ctx, w.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		keys := make([]string, len(batch))
		payloads := make([][]byte, len(batch))
		ids := make([]uuid.UUID, len(batch))
		for i, e := range batch {
			keys[i] = e.ID.String()
			payloads[i] = e.Payload
			ids[i] = e.ID
		}

		if err := w.publisher.Publish(ctx, keys, payloads); err != nil {
			w.metrics.AuditDropped.Add(float64(len(batch)))
			return err
		}
		w.metrics.AuditPublished.Add(float64(len(batch)))

		if err := w.source.MarkPublished(ctx, ids); err != nil {
			return err
		}
		if len(batch) < w.batchSize {
			return nil
		}
	}
}
