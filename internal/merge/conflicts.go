package merge

import (
	"sort"

	"github.com/google/uuid"

	ballotmodels "rollcall/internal/ballots/models"
	"rollcall/internal/people/models"
)

// FindStandingConflicts checks both directions: a's candidacies against b's
// current not-standing markers and vice versa. It is read-only and
// commutative; swapping the arguments yields the same elections with the
// standing/not-standing roles exchanged.
//
// Descriptors are ordered by election slug, then standing person id, so the
// blocked-merge response renders identically across retries.
func FindStandingConflicts(a, b *models.Person, aCandidacies, bCandidacies []ballotmodels.Candidacy) []ConflictDescriptor {
	var out []ConflictDescriptor
	out = append(out, conflictsOneWay(a, b, aCandidacies)...)
	out = append(out, conflictsOneWay(b, a, bCandidacies)...)

	sort.Slice(out, func(i, j int) bool {
		if out[i].ElectionSlug != out[j].ElectionSlug {
			return out[i].ElectionSlug < out[j].ElectionSlug
		}
		return out[i].StandingPersonID.String() < out[j].StandingPersonID.String()
	})
	return out
}

// conflictsOneWay emits a descriptor for every election where standing holds
// a candidacy and notStanding's current state carries an explicit
// not-standing marker for the same election.
func conflictsOneWay(standing, notStanding *models.Person, candidacies []ballotmodels.Candidacy) []ConflictDescriptor {
	var out []ConflictDescriptor
	for _, c := range candidacies {
		if !notStanding.State.NotStandingIn(c.ElectionSlug) {
			continue
		}
		out = append(out, ConflictDescriptor{
			ElectionSlug:        c.ElectionSlug,
			StandingPersonID:    standing.ID,
			NotStandingPersonID: notStanding.ID,
			StandingBallotID:    c.BallotID,
			OffendingVersionID:  offendingVersion(notStanding, c.ElectionSlug),
		})
	}
	return out
}

// offendingVersion scans history newest-first for the snapshot carrying the
// not-standing marker. Nil means the marker predates tracked history.
func offendingVersion(person *models.Person, electionSlug string) uuid.UUID {
	for i := len(person.Versions) - 1; i >= 0; i-- {
		if person.Versions[i].State.NotStandingIn(electionSlug) {
			return person.Versions[i].ID
		}
	}
	return uuid.Nil
}
