package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"rollcall/internal/people/models"
	"rollcall/pkg/platform/sentinel"
	txcontext "rollcall/pkg/platform/tx"
)

// PostgresStore persists people and their append-only version histories.
// person_versions rows are only ever inserted or repointed to a new owner
// during a merge; their content never changes after insert.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) (dbExecutor, bool) {
	if tx, ok := txcontext.From(ctx); ok {
		return tx, true
	}
	return s.db, false
}

func (s *PostgresStore) Create(ctx context.Context, person *models.Person) error {
	execer, _ := s.execer(ctx)
	stateJSON, err := json.Marshal(person.State)
	if err != nil {
		return fmt.Errorf("marshal person state: %w", err)
	}
	_, err = execer.ExecContext(ctx, `
		INSERT INTO people (id, state, merged_into, created_at, updated_at)
		VALUES ($1, $2, NULL, $3, $4)
	`, person.ID, stateJSON, person.CreatedAt, person.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

// Get loads a person with their full ordered history. Inside a transaction
// the person row is locked so concurrent writers serialize on it, which is
// what makes the stale-write check above this store sound.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	execer, inTx := s.execer(ctx)

	query := `SELECT id, state, merged_into, created_at, updated_at FROM people WHERE id = $1`
	if inTx {
		query += ` FOR UPDATE`
	}

	var (
		person     models.Person
		stateJSON  []byte
		mergedInto *uuid.UUID
	)
	err := execer.QueryRowContext(ctx, query, id).Scan(
		&person.ID, &stateJSON, &mergedInto, &person.CreatedAt, &person.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query person: %w", err)
	}
	if err := json.Unmarshal(stateJSON, &person.State); err != nil {
		return nil, fmt.Errorf("unmarshal person state: %w", err)
	}
	person.MergedInto = mergedInto

	versions, err := s.versions(ctx, execer, id)
	if err != nil {
		return nil, err
	}
	person.Versions = versions
	return &person, nil
}

func (s *PostgresStore) versions(ctx context.Context, execer dbExecutor, personID uuid.UUID) ([]models.VersionSnapshot, error) {
	rows, err := execer.QueryContext(ctx, `
		SELECT id, person_id, origin_person_id, seq, state, source, actor_id, ip, created_at
		FROM person_versions
		WHERE person_id = $1
		ORDER BY created_at ASC, seq ASC, origin_person_id ASC
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var versions []models.VersionSnapshot
	for rows.Next() {
		var (
			v         models.VersionSnapshot
			stateJSON []byte
		)
		err := rows.Scan(&v.ID, &v.PersonID, &v.Meta.OriginPersonID, &v.Seq,
			&stateJSON, &v.Meta.Source, &v.Meta.ActorID, &v.Meta.IP, &v.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if err := json.Unmarshal(stateJSON, &v.State); err != nil {
			return nil, fmt.Errorf("unmarshal version state: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

func (s *PostgresStore) AppendVersion(ctx context.Context, personID uuid.UUID, snap models.VersionSnapshot, newState models.PersonState) (models.VersionSnapshot, error) {
	execer, _ := s.execer(ctx)

	var mergedInto *uuid.UUID
	err := execer.QueryRowContext(ctx,
		`SELECT merged_into FROM people WHERE id = $1`, personID,
	).Scan(&mergedInto)
	if err == sql.ErrNoRows {
		return models.VersionSnapshot{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.VersionSnapshot{}, fmt.Errorf("check person: %w", err)
	}
	if mergedInto != nil {
		return models.VersionSnapshot{}, sentinel.ErrInvalidState
	}

	snap.PersonID = personID
	snap.State = newState

	err = execer.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM person_versions WHERE person_id = $1`, personID,
	).Scan(&snap.Seq)
	if err != nil {
		return models.VersionSnapshot{}, fmt.Errorf("next seq: %w", err)
	}

	stateJSON, err := json.Marshal(snap.State)
	if err != nil {
		return models.VersionSnapshot{}, fmt.Errorf("marshal snapshot state: %w", err)
	}

	_, err = execer.ExecContext(ctx, `
		INSERT INTO person_versions (id, person_id, origin_person_id, seq, state, source, actor_id, ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, snap.ID, snap.PersonID, snap.Meta.OriginPersonID, snap.Seq, stateJSON,
		snap.Meta.Source, snap.Meta.ActorID, snap.Meta.IP, snap.CreatedAt)
	if err != nil {
		return models.VersionSnapshot{}, fmt.Errorf("insert version: %w", err)
	}

	_, err = execer.ExecContext(ctx,
		`UPDATE people SET state = $1, updated_at = $2 WHERE id = $3`,
		stateJSON, snap.CreatedAt, personID)
	if err != nil {
		return models.VersionSnapshot{}, fmt.Errorf("update person state: %w", err)
	}
	return snap, nil
}

// ReassignVersions moves ownership of every snapshot from one person to
// another. Snapshot content, including origin_person_id, is untouched.
func (s *PostgresStore) ReassignVersions(ctx context.Context, from, to uuid.UUID) error {
	execer, _ := s.execer(ctx)
	_, err := execer.ExecContext(ctx,
		`UPDATE person_versions SET person_id = $1 WHERE person_id = $2`, to, from)
	if err != nil {
		return fmt.Errorf("reassign versions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Tombstone(ctx context.Context, id, into uuid.UUID) error {
	execer, _ := s.execer(ctx)
	result, err := execer.ExecContext(ctx, `
		UPDATE people SET merged_into = $1, updated_at = NOW()
		WHERE id = $2 AND merged_into IS NULL
	`, into, id)
	if err != nil {
		return fmt.Errorf("tombstone person: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("tombstone person: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}
