package core

import (
	"context"
	"errors"
	"fmt"

	"genomeforge/internal/similarity"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

// RebirthRequest replaces a project's genome with a regenerated candidate.
type RebirthRequest struct {
	ProjectID   string                 `validate:"required"`
	UserID      string                 `validate:"required"`
	Candidate   genome.Genome          `validate:"-"`
	MaxRetries  int                    `validate:"gte=-1,lte=10"`
	Regenerator similarity.Regenerator `validate:"-"`
}

// RebirthResult reports the gate outcome. Version is set when the candidate
// was accepted.
type RebirthResult struct {
	Passed          bool
	Score           int
	Attempts        int
	Similarity      similarity.Result
	DisputeSnapshot domain.VersionEntry
	Version         domain.VersionEntry
	LedgerEntry     domain.LedgerEntry
}

// Rebirth snapshots the current genome for disputes, reserves the vault
// purchase, and runs the similarity gate. A passing candidate replaces the
// genome and the reservation is committed; otherwise it is rolled back, the
// project is quarantined and the returned error matches
// similarity.ErrQuarantined.
func (s *Service) Rebirth(ctx context.Context, req RebirthRequest) (RebirthResult, error) {
	ctx, finish := s.begin(ctx, opRebirth, req.UserID)
	res, err := s.rebirth(ctx, req)
	finish(req.ProjectID, err)
	return res, err
}

func (s *Service) rebirth(ctx context.Context, req RebirthRequest) (RebirthResult, error) {
	if err := s.check(req); err != nil {
		return RebirthResult{}, err
	}
	if err := genome.Validate(req.Candidate); err != nil {
		return RebirthResult{}, err
	}
	var (
		out    RebirthResult
		parent genome.Genome
	)
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		project, err := s.ownedProject(tx, req.ProjectID, req.UserID)
		if err != nil {
			return err
		}
		parent = project.Genome
		out.DisputeSnapshot, err = similarity.SnapshotForDispute(tx, project.ID, domain.AuthorUser)
		if err != nil {
			return fmt.Errorf("dispute snapshot: %w", err)
		}
		amount := EstimateChipCost(req.Candidate, project.CustomLogicFunctions)
		out.LedgerEntry, err = s.ledger.ReserveIn(tx, req.UserID, project.ID, domain.TxVaultPurchase, amount)
		return err
	})
	if err != nil {
		return RebirthResult{}, err
	}

	outcome, gateErr := s.gate.Enforce(ctx, parent, req.Candidate, req.ProjectID, req.UserID, similarity.Options{
		MaxRetries:  req.MaxRetries,
		Regenerator: req.Regenerator,
	})
	out.Score = outcome.Score
	out.Attempts = outcome.Attempts
	out.Similarity = outcome.Result
	if gateErr != nil {
		s.releaseReservation(ctx, out.LedgerEntry.ID)
		s.invalidateGenome(ctx, req.ProjectID)
		return out, gateErr
	}

	entryID := out.LedgerEntry.ID
	var debited bool
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		project, ok := tx.FindProject(req.ProjectID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityProject, ID: req.ProjectID}
		}
		var err error
		out.Version, err = s.appendVersion(tx, project, outcome.Genome, domain.VersionEntry{
			Kind:            domain.VersionRebirth,
			Author:          domain.AuthorAgent,
			Description:     fmt.Sprintf("rebirth accepted at similarity %d after %d attempt(s)", outcome.Score, outcome.Attempts),
			ChangedBlockIDs: genome.ChangedIDs(genome.Diff(project.Genome, outcome.Genome)),
		})
		if err != nil {
			return err
		}
		out.LedgerEntry, debited, err = s.ledger.CommitIn(tx, entryID)
		return err
	})
	if err != nil {
		s.releaseReservation(ctx, entryID)
		return out, err
	}
	if debited {
		s.ledger.AfterCommit(ctx, out.LedgerEntry)
	}
	s.invalidateGenome(ctx, req.ProjectID)
	out.Passed = true
	return out, nil
}

func (s *Service) releaseReservation(ctx context.Context, entryID string) {
	if entryID == "" {
		return
	}
	if _, err := s.ledger.Rollback(context.WithoutCancel(ctx), entryID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		s.logger.Error("ledger rollback", "entry_id", entryID, "error", err)
	}
}
