package service

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"rollcall/internal/audit"
	ballotmodels "rollcall/internal/ballots/models"
	"rollcall/internal/people/models"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

// syncCandidacies reconciles candidacy rows with the standing_in entries of
// the state being committed. Every created or deleted row gets its own audit
// entry tied to the version that caused it.
//
// Locked ballots reject structural changes unless allowLocked is set; callers
// that do override report which locked ballots they touched.
func (s *Service) syncCandidacies(
	ctx context.Context,
	personID uuid.UUID,
	oldState, newState models.PersonState,
	req EditRequest,
	versionID uuid.UUID,
	allowLocked bool,
) ([]string, error) {
	var touchedLocked []string

	for _, slug := range unionElections(oldState, newState) {
		oldEntry, hadOld := oldState.StandingIn[slug]
		newEntry, hasNew := newState.StandingIn[slug]

		oldBallot := ""
		if hadOld && oldEntry.Standing {
			oldBallot = oldEntry.BallotID
		}
		newBallot := ""
		if hasNew && newEntry.Standing {
			newBallot = newEntry.BallotID
		}

		oldParty := oldState.Parties[slug]
		newParty := newState.Parties[slug]

		if oldBallot == newBallot {
			if oldBallot == "" || oldParty == newParty {
				continue
			}
			// Party swap on the same ballot is replace-in-place.
			if err := s.checkLock(ctx, oldBallot, allowLocked, &touchedLocked); err != nil {
				return nil, err
			}
			if err := s.deleteCandidacy(ctx, personID, oldBallot, req, versionID); err != nil {
				return nil, err
			}
			if err := s.createCandidacy(ctx, personID, slug, newBallot, newParty, req, versionID); err != nil {
				return nil, err
			}
			continue
		}

		if oldBallot != "" {
			if err := s.checkLock(ctx, oldBallot, allowLocked, &touchedLocked); err != nil {
				return nil, err
			}
			if err := s.deleteCandidacy(ctx, personID, oldBallot, req, versionID); err != nil {
				return nil, err
			}
		}
		if newBallot != "" {
			if err := s.checkLock(ctx, newBallot, allowLocked, &touchedLocked); err != nil {
				return nil, err
			}
			if err := s.createCandidacy(ctx, personID, slug, newBallot, newParty, req, versionID); err != nil {
				return nil, err
			}
		}
	}
	return touchedLocked, nil
}

func (s *Service) checkLock(ctx context.Context, ballotID string, allowLocked bool, touched *[]string) error {
	ballot, err := s.ballots.GetBallot(ctx, ballotID)
	if err != nil {
		if err == sentinel.ErrNotFound {
			return dErrors.Newf(dErrors.CodeBadRequest, "unknown ballot %q", ballotID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "load ballot")
	}
	if !ballot.Locked {
		return nil
	}
	if !allowLocked {
		return dErrors.Newf(dErrors.CodeForbidden,
			"ballot %q is locked; candidacies on it cannot be changed", ballotID)
	}
	*touched = append(*touched, ballotID)
	return nil
}

func (s *Service) createCandidacy(ctx context.Context, personID uuid.UUID, electionSlug, ballotID, partyID string, req EditRequest, versionID uuid.UUID) error {
	err := s.candidacies.CreateCandidacy(ctx, ballotmodels.Candidacy{
		PersonID:     personID,
		BallotID:     ballotID,
		ElectionSlug: electionSlug,
		PartyID:      partyID,
	})
	if err != nil {
		if err == sentinel.ErrConflict {
			return dErrors.Newf(dErrors.CodeBadRequest,
				"person %s already has a candidacy on ballot %q", personID, ballotID)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "create candidacy")
	}
	return s.auditor.Record(ctx, audit.Entry{
		ActorID:   req.ActorID,
		PersonID:  personID,
		Kind:      audit.ActionCandidacyCreate,
		VersionID: versionID,
		Source:    req.Source,
		IP:        s.clientIP(req),
	})
}

func (s *Service) deleteCandidacy(ctx context.Context, personID uuid.UUID, ballotID string, req EditRequest, versionID uuid.UUID) error {
	err := s.candidacies.DeleteCandidacy(ctx, personID, ballotID)
	if err != nil && err != sentinel.ErrNotFound {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete candidacy")
	}
	if err == sentinel.ErrNotFound {
		// Candidacy rows can lag states written before the ballot existed.
		return nil
	}
	return s.auditor.Record(ctx, audit.Entry{
		ActorID:   req.ActorID,
		PersonID:  personID,
		Kind:      audit.ActionCandidacyDelete,
		VersionID: versionID,
		Source:    req.Source,
		IP:        s.clientIP(req),
	})
}

func unionElections(a, b models.PersonState) []string {
	seen := make(map[string]struct{}, len(a.StandingIn)+len(b.StandingIn))
	for slug := range a.StandingIn {
		seen[slug] = struct{}{}
	}
	for slug := range b.StandingIn {
		seen[slug] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for slug := range seen {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}
