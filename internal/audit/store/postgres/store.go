package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rollcall/internal/audit"
	txcontext "rollcall/pkg/platform/tx"
)

// Store persists audit entries in Postgres. Every Append writes both the
// queryable audit_entries row and an outbox row in the same transaction; the
// outbox worker publishes to Kafka after commit, so downstream consumers only
// ever see committed mutations.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// audit.Entry for deserialization by downstream reporting consumers.
type outboxPayload struct {
	ID        string `json:"ID"`
	ActorID   string `json:"ActorID"`
	PersonID  string `json:"PersonID,omitempty"`
	Kind      string `json:"Kind"`
	VersionID string `json:"VersionID,omitempty"`
	Source    string `json:"Source,omitempty"`
	IP        string `json:"IP,omitempty"`
	Timestamp string `json:"Timestamp"`
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	execer := s.execer(ctx)

	_, err := execer.ExecContext(ctx, `
		INSERT INTO audit_entries (id, actor_id, person_id, kind, version_id, source, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.ID,
		entry.ActorID,
		nullableUUID(entry.PersonID),
		string(entry.Kind),
		nullableUUID(entry.VersionID),
		entry.Source,
		entry.IP,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload := outboxPayload{
		ID:        entry.ID.String(),
		ActorID:   entry.ActorID,
		Kind:      string(entry.Kind),
		Source:    entry.Source,
		IP:        entry.IP,
		Timestamp: entry.CreatedAt.Format(time.RFC3339Nano),
	}
	if entry.PersonID != uuid.Nil {
		payload.PersonID = entry.PersonID.String()
	}
	if entry.VersionID != uuid.Nil {
		payload.VersionID = entry.VersionID.String()
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = execer.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, payload, created_at)
		VALUES ($1, $2, $3)
	`, entry.ID, payloadBytes, time.Now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	query := `
		SELECT id, actor_id, person_id, kind, version_id, source, ip, created_at
		FROM audit_entries
		WHERE ($1::uuid IS NULL OR person_id = $1)
		  AND ($2 = '' OR actor_id = $2)
		  AND ($3 = '' OR kind = $3)
		ORDER BY created_at DESC, id DESC
	`
	args := []any{nullableUUID(q.PersonID), q.ActorID, string(q.Kind)}
	if q.Limit > 0 {
		query += " LIMIT $4"
		args = append(args, q.Limit)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e         audit.Entry
			personID  *uuid.UUID
			versionID *uuid.UUID
			kind      string
		)
		err := rows.Scan(&e.ID, &e.ActorID, &personID, &kind, &versionID, &e.Source, &e.IP, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Kind = audit.ActionKind(kind)
		if personID != nil {
			e.PersonID = *personID
		}
		if versionID != nil {
			e.VersionID = *versionID
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// OutboxEntry aliases the audit package's type so this store satisfies
// audit.OutboxSource directly.
type OutboxEntry = audit.OutboxEntry

// UnpublishedBatch returns up to limit outbox rows not yet published, oldest
// first so Kafka ordering tracks commit order.
func (s *Store) UnpublishedBatch(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps outbox rows after a successful produce. Idempotent:
// re-marking already-published rows is a no-op.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE audit_outbox SET published_at = $1
		WHERE id = ANY($2::uuid[]) AND published_at IS NULL
	`, time.Now(), uuidArray(ids))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func uuidArray(ids []uuid.UUID) any {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return pq.Array(out)
}
