package merge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rollcall/internal/audit"
	ballotmodels "rollcall/internal/ballots/models"
	"rollcall/internal/people/models"
	"rollcall/internal/platform/metrics"
	"rollcall/internal/redirect"
	"rollcall/internal/storage"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

type PeopleStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Person, error)
	AppendVersion(ctx context.Context, personID uuid.UUID, snap models.VersionSnapshot, newState models.PersonState) (models.VersionSnapshot, error)
	ReassignVersions(ctx context.Context, from, to uuid.UUID) error
	Tombstone(ctx context.Context, id, into uuid.UUID) error
}

type CandidacyStore interface {
	ListByPerson(ctx context.Context, personID uuid.UUID) ([]ballotmodels.Candidacy, error)
	DeleteCandidacy(ctx context.Context, personID uuid.UUID, ballotID string) error
	ReassignCandidacy(ctx context.Context, ballotID string, from, to uuid.UUID) error
}

type BallotStore interface {
	GetBallot(ctx context.Context, id string) (ballotmodels.Ballot, error)
}

type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service commits merges: conflict check, candidacy reassignment, history
// concatenation, redirect, tombstone, audit, all in one transaction.
type Service struct {
	people      PeopleStore
	candidacies CandidacyStore
	ballots     BallotStore
	redirects   redirect.Store
	resolver    *redirect.Resolver
	auditor     Recorder
	tx          storage.TxRunner
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
}

func New(
	people PeopleStore,
	candidacies CandidacyStore,
	ballots BallotStore,
	redirects redirect.Store,
	auditor Recorder,
	tx storage.TxRunner,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		people:      people,
		candidacies: candidacies,
		ballots:     ballots,
		redirects:   redirects,
		resolver:    redirect.NewResolver(redirects),
		auditor:     auditor,
		tx:          tx,
		metrics:     m,
		logger:      logger,
		tracer:      otel.Tracer("merge"),
	}
}

// Request identifies who is merging and why.
type Request struct {
	ActorID string
	Source  string
	IP      string
}

// Merge folds secondary into primary. A blocked merge returns a merge
// conflict error carrying the full ordered conflict list; it writes nothing.
func (s *Service) Merge(ctx context.Context, primaryID, secondaryID uuid.UUID, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "merge.Merge", trace.WithAttributes(
		attribute.String("primary_id", primaryID.String()),
		attribute.String("secondary_id", secondaryID.String()),
	))
	defer span.End()

	if req.ActorID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "merge requires an actor")
	}

	var result Result
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// Re-resolve both sides inside the transaction. A concurrent merge
		// may have already retargeted either id; operating on a stale target
		// would violate the single-hop redirect shape.
		primary, err := s.loadCanonical(ctx, primaryID)
		if err != nil {
			return err
		}
		secondary, err := s.loadCanonical(ctx, secondaryID)
		if err != nil {
			return err
		}
		if primary.ID == secondary.ID {
			return dErrors.Newf(dErrors.CodeInvalidMerge,
				"cannot merge person %s into itself", primary.ID)
		}

		primaryCandidacies, err := s.candidacies.ListByPerson(ctx, primary.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "list primary candidacies")
		}
		secondaryCandidacies, err := s.candidacies.ListByPerson(ctx, secondary.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "list secondary candidacies")
		}

		conflicts := FindStandingConflicts(primary, secondary, primaryCandidacies, secondaryCandidacies)
		if len(conflicts) > 0 {
			s.metrics.MergeConflicts.Inc()
			return dErrors.NewWithDetails(dErrors.CodeMergeConflict,
				fmt.Sprintf("merge of %s into %s blocked by %d standing conflict(s); clear the not-standing markers and retry",
					secondary.ID, primary.ID, len(conflicts)),
				conflicts)
		}

		mergeVersionID := uuid.New()
		moved, discarded, touchedLocked, err := s.reassignCandidacies(
			ctx, primary, primaryCandidacies, secondaryCandidacies, req, mergeVersionID)
		if err != nil {
			return err
		}

		if err := s.people.ReassignVersions(ctx, secondary.ID, primary.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "concatenate histories")
		}

		source := req.Source
		if strings.TrimSpace(source) == "" {
			source = fmt.Sprintf("after merging person %s", secondary.ID)
		}
		snap, err := s.people.AppendVersion(ctx, primary.ID, models.VersionSnapshot{
			ID:        mergeVersionID,
			CreatedAt: time.Now(),
			Meta: models.VersionMeta{
				Source:         source,
				ActorID:        req.ActorID,
				IP:             clientIP(req),
				OriginPersonID: primary.ID,
			},
		}, mergeStates(primary.State, secondary.State))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append merged version")
		}

		if err := s.people.Tombstone(ctx, secondary.ID, primary.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "tombstone secondary")
		}
		if err := s.redirects.Create(ctx, secondary.ID, primary.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "create redirect")
		}

		if err := s.auditor.Record(ctx, audit.Entry{
			ActorID:   req.ActorID,
			PersonID:  primary.ID,
			Kind:      audit.ActionPersonMerge,
			VersionID: snap.ID,
			Source:    source,
			IP:        clientIP(req),
		}); err != nil {
			return err
		}

		if len(touchedLocked) > 0 {
			s.logger.WarnContext(ctx, "merge altered locked ballots",
				"primary_id", primary.ID, "secondary_id", secondary.ID,
				"ballots", touchedLocked)
		}

		result = Result{
			Phase:                PhaseCommitted,
			PrimaryID:            primary.ID,
			SecondaryID:          secondary.ID,
			VersionID:            snap.ID,
			State:                snap.State,
			MovedCandidacies:     moved,
			DiscardedCandidacies: discarded,
			TouchedLockedBallots: touchedLocked,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if dErrors.HasCode(err, dErrors.CodeMergeConflict) {
			span.SetStatus(codes.Error, "merge blocked on standing conflicts")
		}
		return nil, err
	}

	s.metrics.Merges.Inc()
	return &result, nil
}

// PreviewConflicts runs the read-only conflict check without committing
// anything, so a merge UI can show the correction list up front.
func (s *Service) PreviewConflicts(ctx context.Context, primaryID, secondaryID uuid.UUID) ([]ConflictDescriptor, error) {
	primary, err := s.loadCanonical(ctx, primaryID)
	if err != nil {
		return nil, err
	}
	secondary, err := s.loadCanonical(ctx, secondaryID)
	if err != nil {
		return nil, err
	}
	if primary.ID == secondary.ID {
		return nil, dErrors.Newf(dErrors.CodeInvalidMerge,
			"cannot merge person %s into itself", primary.ID)
	}

	primaryCandidacies, err := s.candidacies.ListByPerson(ctx, primary.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list primary candidacies")
	}
	secondaryCandidacies, err := s.candidacies.ListByPerson(ctx, secondary.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list secondary candidacies")
	}
	return FindStandingConflicts(primary, secondary, primaryCandidacies, secondaryCandidacies), nil
}

// reassignCandidacies moves each of the secondary's candidacies to the
// primary, discarding where the primary already holds that ballot. Locked
// ballots do not block the merge but are reported.
func (s *Service) reassignCandidacies(
	ctx context.Context,
	primary *models.Person,
	primaryCandidacies, secondaryCandidacies []ballotmodels.Candidacy,
	req Request,
	mergeVersionID uuid.UUID,
) (moved, discarded, touchedLocked []string, err error) {
	primaryBallots := make(map[string]struct{}, len(primaryCandidacies))
	for _, c := range primaryCandidacies {
		primaryBallots[c.BallotID] = struct{}{}
	}

	for _, c := range secondaryCandidacies {
		ballot, err := s.ballots.GetBallot(ctx, c.BallotID)
		if err != nil {
			return nil, nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "load ballot")
		}
		if ballot.Locked {
			touchedLocked = append(touchedLocked, c.BallotID)
		}

		if _, taken := primaryBallots[c.BallotID]; taken {
			if err := s.candidacies.DeleteCandidacy(ctx, c.PersonID, c.BallotID); err != nil {
				return nil, nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "discard duplicate candidacy")
			}
			if err := s.auditor.Record(ctx, audit.Entry{
				ActorID:   req.ActorID,
				PersonID:  primary.ID,
				Kind:      audit.ActionCandidacyDelete,
				VersionID: mergeVersionID,
				Source:    fmt.Sprintf("discarded duplicate candidacy on %s during merge", c.BallotID),
				IP:        clientIP(req),
			}); err != nil {
				return nil, nil, nil, err
			}
			discarded = append(discarded, c.BallotID)
			continue
		}

		if err := s.candidacies.ReassignCandidacy(ctx, c.BallotID, c.PersonID, primary.ID); err != nil {
			if err == sentinel.ErrConflict {
				return nil, nil, nil, dErrors.Newf(dErrors.CodeInternal,
					"candidacy on ballot %q changed owner mid-merge", c.BallotID)
			}
			return nil, nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "reassign candidacy")
		}
		moved = append(moved, c.BallotID)
	}

	sort.Strings(moved)
	sort.Strings(discarded)
	sort.Strings(touchedLocked)
	return moved, discarded, touchedLocked, nil
}

// loadCanonical follows redirects and rejects targets that are themselves
// tombstoned, which can only happen on a racing merge losing the serialization.
func (s *Service) loadCanonical(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	canonical, _, err := s.resolver.Canonical(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve redirect")
	}

	person, err := s.people.Get(ctx, canonical)
	if err != nil {
		if err == sentinel.ErrNotFound {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "person %s not found", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load person")
	}
	if !person.Live() {
		return nil, dErrors.Newf(dErrors.CodeInvalidMerge,
			"person %s has already been merged away", person.ID)
	}
	return person, nil
}

// mergeStates folds the secondary's state under the primary's: the primary's
// values win on every collision, the secondary only fills what the primary
// left blank. The secondary's name survives as an other-name.
func mergeStates(primary, secondary models.PersonState) models.PersonState {
	out := primary.Clone()

	if secondary.Name != "" && secondary.Name != out.Name && !slices.Contains(out.OtherNames, secondary.Name) {
		out.OtherNames = append(out.OtherNames, secondary.Name)
	}
	for _, n := range secondary.OtherNames {
		if n != out.Name && !slices.Contains(out.OtherNames, n) {
			out.OtherNames = append(out.OtherNames, n)
		}
	}

	for key, value := range secondary.Attributes {
		if out.Attributes[key] != "" || value == "" {
			continue
		}
		if out.Attributes == nil {
			out.Attributes = make(map[string]string)
		}
		out.Attributes[key] = value
	}

	for slug, standing := range secondary.StandingIn {
		if _, ok := out.StandingIn[slug]; ok {
			continue
		}
		if out.StandingIn == nil {
			out.StandingIn = make(map[string]models.Standing)
		}
		out.StandingIn[slug] = standing
	}

	for slug, party := range secondary.Parties {
		if _, ok := out.Parties[slug]; ok {
			continue
		}
		if out.Parties == nil {
			out.Parties = make(map[string]string)
		}
		out.Parties[slug] = party
	}
	return out
}

func clientIP(req Request) string {
	if strings.HasPrefix(req.ActorID, "bot:") {
		return ""
	}
	return req.IP
}
