package audit

import (
	"time"

	"github.com/google/uuid"
)

// ActionKind is the closed taxonomy of auditable mutations. Anything outside
// this set is rejected at append time.
type ActionKind string

const (
	ActionPersonCreate    ActionKind = "person-create"
	ActionPersonUpdate    ActionKind = "person-update"
	ActionPersonRevert    ActionKind = "person-revert"
	ActionPersonMerge     ActionKind = "person-merge"
	ActionBallotLock      ActionKind = "ballot-lock"
	ActionCandidacyCreate ActionKind = "candidacy-create"
	ActionCandidacyDelete ActionKind = "candidacy-delete"
)

var validKinds = map[ActionKind]struct{}{
	ActionPersonCreate:    {},
	ActionPersonUpdate:    {},
	ActionPersonRevert:    {},
	ActionPersonMerge:     {},
	ActionBallotLock:      {},
	ActionCandidacyCreate: {},
	ActionCandidacyDelete: {},
}

func (k ActionKind) Valid() bool {
	_, ok := validKinds[k]
	return ok
}

// Entry is one immutable audit record. VersionID references the snapshot the
// mutation produced; candidacy entries reference the person version whose
// commit caused them, including the merge version for rows discarded by a
// merge.
type Entry struct {
	ID        uuid.UUID
	ActorID   string
	PersonID  uuid.UUID
	Kind      ActionKind
	VersionID uuid.UUID
	Source    string
	IP        string
	CreatedAt time.Time
}

// Query filters audit listings for the recent-changes feed and downstream
// reporting. Zero values mean "any".
type Query struct {
	PersonID uuid.UUID
	ActorID  string
	Kind     ActionKind
	Limit    int
}

// OutboxEntry is one unpublished audit payload awaiting fanout.
type OutboxEntry struct {
	ID      uuid.UUID
	Payload []byte
}
