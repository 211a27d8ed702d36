package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "rollcall/pkg/domain-errors"
)

// Ballot is an (election, post) pair. When Locked, its candidacies must not
// be structurally altered by ordinary edits; only a merge may move them, and
// it records the override.
type Ballot struct {
	ID           string `json:"id"`
	ElectionSlug string `json:"election_slug"`
	ElectionName string `json:"election_name,omitempty"`
	PostSlug     string `json:"post_slug"`
	PostName     string `json:"post_name,omitempty"`
	Locked       bool   `json:"locked"`
}

func (b *Ballot) Validate() error {
	if b.ID == "" || b.ElectionSlug == "" || b.PostSlug == "" {
		return dErrors.New(dErrors.CodeBadRequest, "ballot requires id, election and post slugs")
	}
	return nil
}

// Candidacy links a person to a ballot. Unique per (person, ballot). Elected
// is tri-state: nil means unknown, otherwise the declared result.
type Candidacy struct {
	PersonID     uuid.UUID
	BallotID     string
	ElectionSlug string
	PartyID      string
	Elected      *bool
	CreatedAt    time.Time
}
