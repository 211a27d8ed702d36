package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup. people and person_versions are
// the versioned core; candidacies carry the unique (person_id, ballot_id)
// index that backs the one-candidacy-per-ballot invariant; redirects is the
// single-hop forwarding table; audit_entries and audit_outbox are both
// append-only.
const schema = `
CREATE TABLE IF NOT EXISTS people (
	id          UUID PRIMARY KEY,
	state       JSONB NOT NULL,
	merged_into UUID REFERENCES people (id),
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS person_versions (
	id               UUID PRIMARY KEY,
	person_id        UUID NOT NULL REFERENCES people (id),
	origin_person_id UUID NOT NULL,
	seq              INT NOT NULL,
	state            JSONB NOT NULL,
	source           TEXT NOT NULL,
	actor_id         TEXT NOT NULL,
	ip               TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS person_versions_person_idx
	ON person_versions (person_id, created_at, seq);

CREATE TABLE IF NOT EXISTS ballots (
	id            TEXT PRIMARY KEY,
	election_slug TEXT NOT NULL,
	election_name TEXT NOT NULL DEFAULT '',
	post_slug     TEXT NOT NULL,
	post_name     TEXT NOT NULL DEFAULT '',
	locked        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS candidacies (
	person_id     UUID NOT NULL REFERENCES people (id),
	ballot_id     TEXT NOT NULL REFERENCES ballots (id),
	election_slug TEXT NOT NULL,
	party_id      TEXT NOT NULL DEFAULT '',
	elected       BOOLEAN,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (person_id, ballot_id)
);

CREATE TABLE IF NOT EXISTS redirects (
	old_id UUID PRIMARY KEY,
	new_id UUID NOT NULL
);
CREATE INDEX IF NOT EXISTS redirects_new_idx ON redirects (new_id);

CREATE TABLE IF NOT EXISTS audit_entries (
	id         UUID PRIMARY KEY,
	actor_id   TEXT NOT NULL,
	person_id  UUID,
	kind       TEXT NOT NULL,
	version_id UUID,
	source     TEXT NOT NULL DEFAULT '',
	ip         TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_entries_person_idx ON audit_entries (person_id, created_at);
CREATE INDEX IF NOT EXISTS audit_entries_actor_idx ON audit_entries (actor_id, created_at);

CREATE TABLE IF NOT EXISTS audit_outbox (
	id           UUID PRIMARY KEY,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS audit_outbox_unpublished_idx
	ON audit_outbox (created_at) WHERE published_at IS NULL;
`

// EnsureSchema creates all tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
