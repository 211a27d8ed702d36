package service

import (
	"context"
	"fmt"

	"rollcall/internal/audit"
	"rollcall/internal/ballots/models"
	"rollcall/internal/storage"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

type Store interface {
	UpsertBallot(ctx context.Context, ballot models.Ballot) error
	GetBallot(ctx context.Context, id string) (models.Ballot, error)
	SetLocked(ctx context.Context, id string, locked bool) error
}

type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service manages ballots and their lock state. Locking freezes a ballot's
// candidacies against ordinary edits once its nomination papers are
// confirmed; only a merge may override it.
type Service struct {
	store   Store
	auditor Recorder
	tx      storage.TxRunner
}

func New(store Store, auditor Recorder, tx storage.TxRunner) *Service {
	return &Service{store: store, auditor: auditor, tx: tx}
}

func (s *Service) Upsert(ctx context.Context, ballot models.Ballot) error {
	if err := ballot.Validate(); err != nil {
		return err
	}
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpsertBallot(ctx, ballot); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "upsert ballot")
		}
		return nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (models.Ballot, error) {
	ballot, err := s.store.GetBallot(ctx, id)
	if err != nil {
		if err == sentinel.ErrNotFound {
			return models.Ballot{}, dErrors.Newf(dErrors.CodeNotFound, "ballot %q not found", id)
		}
		return models.Ballot{}, dErrors.Wrap(err, dErrors.CodeInternal, "load ballot")
	}
	return ballot, nil
}

// SetLock flips the lock flag and records who did it.
func (s *Service) SetLock(ctx context.Context, id string, locked bool, actorID, source string) (models.Ballot, error) {
	if actorID == "" {
		return models.Ballot{}, dErrors.New(dErrors.CodeUnauthorized, "lock change requires an actor")
	}

	var ballot models.Ballot
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.SetLocked(ctx, id, locked); err != nil {
			if err == sentinel.ErrNotFound {
				return dErrors.Newf(dErrors.CodeNotFound, "ballot %q not found", id)
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "set ballot lock")
		}
		verb := "locked"
		if !locked {
			verb = "unlocked"
		}
		if source == "" {
			source = fmt.Sprintf("%s ballot %s", verb, id)
		}
		if err := s.auditor.Record(ctx, audit.Entry{
			ActorID: actorID,
			Kind:    audit.ActionBallotLock,
			Source:  source,
		}); err != nil {
			return err
		}
		var err error
		ballot, err = s.store.GetBallot(ctx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "reload ballot")
		}
		return nil
	})
	if err != nil {
		return models.Ballot{}, err
	}
	return ballot, nil
}
