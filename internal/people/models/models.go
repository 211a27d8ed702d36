package models

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	dErrors "rollcall/pkg/domain-errors"
)

// Standing marks a person's relationship to one election. A present entry
// with Standing=false is an explicit "not standing" marker; an absent key
// means unknown. That tri-state is what the merge conflict check runs on.
type Standing struct {
	Standing bool   `json:"standing"`
	BallotID string `json:"ballot_id,omitempty"`
	PostName string `json:"post_name,omitempty"`
}

// PersonState is the full versioned state of a candidate record. Every
// snapshot stores a complete copy, never a delta.
type PersonState struct {
	Name       string              `json:"name"`
	OtherNames []string            `json:"other_names,omitempty"`
	Attributes map[string]string   `json:"attributes,omitempty"`
	StandingIn map[string]Standing `json:"standing_in,omitempty"`
	Parties    map[string]string   `json:"parties,omitempty"`
}

// Validate checks well-formedness against the schema. Standing entries need
// a ballot; not-standing markers must not name one.
func (s *PersonState) Validate() error {
	if s.Name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "person state requires a name")
	}
	for slug, standing := range s.StandingIn {
		if slug == "" {
			return dErrors.New(dErrors.CodeBadRequest, "standing_in contains an empty election slug")
		}
		if standing.Standing && standing.BallotID == "" {
			return dErrors.Newf(dErrors.CodeBadRequest, "standing_in[%s] is standing but names no ballot", slug)
		}
		if !standing.Standing && standing.BallotID != "" {
			return dErrors.Newf(dErrors.CodeBadRequest, "standing_in[%s] is a not-standing marker but names ballot %s", slug, standing.BallotID)
		}
	}
	for slug := range s.Parties {
		if slug == "" {
			return dErrors.New(dErrors.CodeBadRequest, "parties contains an empty election slug")
		}
	}
	return nil
}

// Clone returns a deep copy so snapshots never alias live state.
func (s PersonState) Clone() PersonState {
	out := s
	out.OtherNames = slices.Clone(s.OtherNames)
	out.Attributes = maps.Clone(s.Attributes)
	out.StandingIn = maps.Clone(s.StandingIn)
	out.Parties = maps.Clone(s.Parties)
	return out
}

// NotStandingIn reports whether the state carries an explicit not-standing
// marker for the election.
func (s PersonState) NotStandingIn(electionSlug string) bool {
	standing, ok := s.StandingIn[electionSlug]
	return ok && !standing.Standing
}

// VersionMeta records where a snapshot came from. OriginPersonID is the
// physical entity that produced the snapshot, which survives history
// concatenation during merges so provenance is always recoverable.
type VersionMeta struct {
	Source         string    `json:"source"`
	ActorID        string    `json:"actor_id"`
	IP             string    `json:"ip,omitempty"`
	OriginPersonID uuid.UUID `json:"origin_person_id"`
}

// VersionSnapshot is one immutable entry in a person's append-only history.
type VersionSnapshot struct {
	ID        uuid.UUID
	PersonID  uuid.UUID
	Seq       int
	CreatedAt time.Time
	State     PersonState
	Meta      VersionMeta
}

// Person is the core versioned entity. Never physically deleted; a merge
// tombstones it by setting MergedInto, and a Redirect keeps old ids working.
type Person struct {
	ID         uuid.UUID
	State      PersonState
	Versions   []VersionSnapshot
	MergedInto *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Live reports whether the person has not been superseded by a merge.
func (p *Person) Live() bool { return p.MergedInto == nil }

// CurrentVersion returns the newest snapshot, or nil for an empty history.
func (p *Person) CurrentVersion() *VersionSnapshot {
	if len(p.Versions) == 0 {
		return nil
	}
	return &p.Versions[len(p.Versions)-1]
}

// Version finds a snapshot by id.
func (p *Person) Version(id uuid.UUID) *VersionSnapshot {
	for i := range p.Versions {
		if p.Versions[i].ID == id {
			return &p.Versions[i]
		}
	}
	return nil
}

// SortVersions orders a history chronologically, breaking timestamp ties by
// sequence number and then origin person id so concatenated histories are
// deterministic.
func SortVersions(versions []VersionSnapshot) {
	slices.SortStableFunc(versions, CompareVersions)
}

func CompareVersions(a, b VersionSnapshot) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if a.Seq != b.Seq {
		if a.Seq < b.Seq {
			return -1
		}
		return 1
	}
	return slices.Compare(a.Meta.OriginPersonID[:], b.Meta.OriginPersonID[:])
}
