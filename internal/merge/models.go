package merge

import (
	"github.com/google/uuid"

	"rollcall/internal/people/models"
)

// Phase tracks where a merge attempt sits in the correct-and-retry flow. A
// blocked merge lands in PhaseConflictsFound; after the offending markers are
// cleared by ordinary edits the retry runs from PhaseCorrected.
type Phase string

const (
	PhaseProposed       Phase = "proposed"
	PhaseConflictsFound Phase = "conflicts_found"
	PhaseCorrected      Phase = "corrected"
	PhaseCommitted      Phase = "committed"
)

// ConflictDescriptor reports one standing/not-standing contradiction blocking
// a merge: one side holds a live candidacy in an election the other side's
// current state explicitly disclaims.
type ConflictDescriptor struct {
	ElectionSlug        string    `json:"election_slug"`
	StandingPersonID    uuid.UUID `json:"standing_person_id"`
	NotStandingPersonID uuid.UUID `json:"not_standing_person_id"`
	StandingBallotID    string    `json:"standing_ballot_id"`
	// OffendingVersionID is the newest snapshot carrying the not-standing
	// marker. Nil when the marker predates tracked history, which is
	// reportable but unresolvable by revert.
	OffendingVersionID uuid.UUID `json:"offending_version_id,omitempty"`
}

// Result reports a committed merge.
type Result struct {
	Phase       Phase              `json:"phase"`
	PrimaryID   uuid.UUID          `json:"primary_id"`
	SecondaryID uuid.UUID          `json:"secondary_id"`
	VersionID   uuid.UUID          `json:"version_id"`
	State       models.PersonState `json:"state"`
	// MovedCandidacies are ballot ids whose candidacy changed owner.
	MovedCandidacies []string `json:"moved_candidacies,omitempty"`
	// DiscardedCandidacies are ballot ids where both sides held a candidacy
	// and the secondary's copy was dropped.
	DiscardedCandidacies []string `json:"discarded_candidacies,omitempty"`
	// TouchedLockedBallots lists locked ballots the merge altered anyway.
	// Identity resolution overrides per-ballot locking, visibly.
	TouchedLockedBallots []string `json:"touched_locked_ballots,omitempty"`
}
