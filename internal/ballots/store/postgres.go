package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"rollcall/internal/ballots/models"
	"rollcall/pkg/platform/sentinel"
	txcontext "rollcall/pkg/platform/tx"
)

// uniqueViolation is the Postgres error code for unique constraint hits; the
// (person_id, ballot_id) index enforces candidacy uniqueness at the storage
// layer, not just in service code.
const uniqueViolation = "23505"

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

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) UpsertBallot(ctx context.Context, ballot models.Ballot) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO ballots (id, election_slug, election_name, post_slug, post_name, locked)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			election_name = EXCLUDED.election_name,
			post_name = EXCLUDED.post_name
	`, ballot.ID, ballot.ElectionSlug, ballot.ElectionName, ballot.PostSlug, ballot.PostName, ballot.Locked)
	if err != nil {
		return fmt.Errorf("upsert ballot: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBallot(ctx context.Context, id string) (models.Ballot, error) {
	var ballot models.Ballot
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, election_slug, election_name, post_slug, post_name, locked
		FROM ballots WHERE id = $1
	`, id).Scan(&ballot.ID, &ballot.ElectionSlug, &ballot.ElectionName,
		&ballot.PostSlug, &ballot.PostName, &ballot.Locked)
	if err == sql.ErrNoRows {
		return models.Ballot{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.Ballot{}, fmt.Errorf("query ballot: %w", err)
	}
	return ballot, nil
}

func (s *PostgresStore) SetLocked(ctx context.Context, id string, locked bool) error {
	result, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE ballots SET locked = $1 WHERE id = $2`, locked, id)
	if err != nil {
		return fmt.Errorf("set ballot locked: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set ballot locked: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByPerson(ctx context.Context, personID uuid.UUID) ([]models.Candidacy, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT person_id, ballot_id, election_slug, party_id, elected, created_at
		FROM candidacies WHERE person_id = $1
		ORDER BY ballot_id
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("query candidacies: %w", err)
	}
	defer rows.Close()

	var out []models.Candidacy
	for rows.Next() {
		var c models.Candidacy
		err := rows.Scan(&c.PersonID, &c.BallotID, &c.ElectionSlug, &c.PartyID, &c.Elected, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan candidacy: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidacies: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateCandidacy(ctx context.Context, c models.Candidacy) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO candidacies (person_id, ballot_id, election_slug, party_id, elected, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, c.PersonID, c.BallotID, c.ElectionSlug, c.PartyID, c.Elected)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert candidacy: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCandidacy(ctx context.Context, personID uuid.UUID, ballotID string) error {
	result, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM candidacies WHERE person_id = $1 AND ballot_id = $2`, personID, ballotID)
	if err != nil {
		return fmt.Errorf("delete candidacy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete candidacy: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ReassignCandidacy(ctx context.Context, ballotID string, from, to uuid.UUID) error {
	result, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE candidacies SET person_id = $1
		WHERE person_id = $2 AND ballot_id = $3
	`, to, from, ballotID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("reassign candidacy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reassign candidacy: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
