package redirect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"rollcall/pkg/platform/sentinel"
	txcontext "rollcall/pkg/platform/tx"
)

// PostgresStore is the authoritative redirect table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, oldID, newID uuid.UUID) error {
	execer := s.execer(ctx)

	// Collapse forward through any existing redirect on the target.
	var target uuid.UUID
	err := execer.QueryRowContext(ctx,
		`SELECT new_id FROM redirects WHERE old_id = $1`, newID,
	).Scan(&target)
	switch {
	case err == nil:
		newID = target
	case err != sql.ErrNoRows:
		return fmt.Errorf("resolve redirect target: %w", err)
	}
	if oldID == newID {
		return sentinel.ErrInvalidState
	}

	// Collapse backward: repoint chains that ended at oldID.
	if _, err := execer.ExecContext(ctx,
		`UPDATE redirects SET new_id = $1 WHERE new_id = $2`, newID, oldID,
	); err != nil {
		return fmt.Errorf("collapse redirect chains: %w", err)
	}

	// Idempotent on replay of the same merge.
	if _, err := execer.ExecContext(ctx, `
		INSERT INTO redirects (old_id, new_id) VALUES ($1, $2)
		ON CONFLICT (old_id) DO UPDATE SET new_id = EXCLUDED.new_id
	`, oldID, newID); err != nil {
		return fmt.Errorf("insert redirect: %w", err)
	}
	return nil
}

func (s *PostgresStore) Resolve(ctx context.Context, id uuid.UUID) (uuid.UUID, bool, error) {
	var target uuid.UUID
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT new_id FROM redirects WHERE old_id = $1`, id,
	).Scan(&target)
	if err == sql.ErrNoRows {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("resolve redirect: %w", err)
	}
	return target, true, nil
}
