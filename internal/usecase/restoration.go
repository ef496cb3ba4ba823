package usecase

import (
	"context"
	"fmt"
	"time"

	"tollguard/internal/domain"
)

// RestorationOrchestrator is the only path back to normal operation.
// Restoration requires probation success AND peer consensus approval; each
// unmet precondition fails with its own sentinel and leaves no partial
// state, so callers can retry safely.
type RestorationOrchestrator struct {
	Trust       TrustRepository
	Quarantines QuarantineRepository
	Suspicions  SuspicionRepository
	Probation   *ProbationEngine
	Consensus   *ConsensusValidator
	Policy      PolicySource
	Clock       Clock
}

func (o *RestorationOrchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

// RestorationResult reports the state a reader re-entered service with.
type RestorationResult struct {
	ReaderID        string
	Score           int
	Status          domain.TrustStatus
	QuarantineState domain.QuarantineState
}

func (o *RestorationOrchestrator) AttemptRestore(ctx context.Context, readerID string) (*RestorationResult, error) {
	q, err := o.Quarantines.OpenForReader(ctx, readerID)
	if err != nil || q.Status != domain.QuarantineProbation {
		return nil, domain.ErrNoActiveProbation
	}

	passed, err := o.Probation.AllPassed(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	if !passed {
		return nil, domain.ErrProbationIncomplete
	}

	consensus, err := o.Consensus.Evaluate(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	if !consensus.Reached {
		return nil, domain.ErrConsensusPending
	}
	if !consensus.Approved {
		return nil, domain.ErrConsensusRejected
	}

	// Preconditions hold; from here every step commits. The restored reader
	// re-enters capped below full trust and must earn TRUSTED through
	// subsequent clean activity.
	p := o.Policy.Snapshot()
	now := o.now()
	rec, err := o.Trust.Mutate(ctx, readerID, p.InitialScore, func(rec *domain.TrustRecord) (*domain.Violation, error) {
		next := rec.Score + p.RestorationBonus
		if next > p.ProbationTrustCap {
			next = p.ProbationTrustCap
		}
		rec.Score = domain.ClampScore(next)
		// Restored readers always re-enter as DEGRADED, regardless of where
		// the bonus lands the score. TRUSTED is earned afterwards.
		rec.Status = domain.TrustStatusDegraded
		rec.QuarantineState = domain.QuarantineStateNormal
		rec.UpdatedAt = now
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore trust record: %w", err)
	}

	q.Status = domain.QuarantineReleased
	q.ReleasedAt = &now
	if err := o.Quarantines.Update(ctx, q); err != nil {
		return nil, fmt.Errorf("close quarantine: %w", err)
	}

	// Amnesty: the reader is trusted enough to operate again, so tags it
	// reported stop carrying its suspicion.
	if err := o.Suspicions.DeleteBySource(ctx, readerID); err != nil {
		return nil, fmt.Errorf("clear tag suspicions: %w", err)
	}

	return &RestorationResult{
		ReaderID:        readerID,
		Score:           rec.Score,
		Status:          rec.Status,
		QuarantineState: rec.QuarantineState,
	}, nil
}
