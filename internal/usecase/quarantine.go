package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tollguard/internal/domain"
)

// QuarantineController decides, after every penalty, whether a reader must
// be pulled out of service, and propagates suspicion to tags the reader
// handled recently.
type QuarantineController struct {
	Trust       TrustRepository
	Quarantines QuarantineRepository
	Suspicions  SuspicionRepository
	Decisions   DecisionRepository
	Policy      PolicySource
	Clock       Clock
}

func (c *QuarantineController) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

// MaybeQuarantine opens a quarantine when the post-penalty score crosses the
// threshold or the violation type is critical. Critical violations bypass
// the score check entirely. A reader with an open episode is left alone, so
// the call is idempotent under retries and repeat violations.
func (c *QuarantineController) MaybeQuarantine(ctx context.Context, readerID string, vtype domain.ViolationType, scoreAfter int) (*domain.QuarantineRecord, error) {
	p := c.Policy.Snapshot()

	var reason string
	switch {
	case scoreAfter <= p.QuarantineThreshold:
		reason = fmt.Sprintf("trust score %d at or below quarantine threshold %d", scoreAfter, p.QuarantineThreshold)
	case p.IsCritical(vtype):
		reason = fmt.Sprintf("critical violation: %s", vtype)
	default:
		return nil, nil
	}

	if _, err := c.Quarantines.OpenForReader(ctx, readerID); err == nil {
		return nil, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := c.now()
	rec := &domain.QuarantineRecord{
		ReaderID:     readerID,
		Reason:       reason,
		Severity:     p.SeverityFor(vtype),
		Status:       domain.QuarantineActive,
		ScoreAtEntry: scoreAfter,
		EnteredAt:    now,
	}
	if err := c.Quarantines.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("open quarantine: %w", err)
	}
	if _, err := c.Trust.Mutate(ctx, readerID, p.InitialScore, func(t *domain.TrustRecord) (*domain.Violation, error) {
		t.QuarantineState = domain.QuarantineStateQuarantined
		t.UpdatedAt = now
		return nil, nil
	}); err != nil {
		return nil, fmt.Errorf("mark reader quarantined: %w", err)
	}

	if err := c.propagateSuspicion(ctx, readerID, p, now); err != nil {
		return nil, fmt.Errorf("propagate tag suspicion: %w", err)
	}
	return rec, nil
}

// propagateSuspicion flags every tag this reader reported in the lookback
// window. A compromised reader may have vouched for forged tags before it
// was caught; other readers evaluating those tags apply the elevated
// multiplier until it expires.
func (c *QuarantineController) propagateSuspicion(ctx context.Context, readerID string, p *domain.TrustPolicy, now time.Time) error {
	since := now.Add(-time.Duration(p.SuspicionLookbackMinutes) * time.Minute)
	tags, err := c.Decisions.DistinctTagsSince(ctx, readerID, since)
	if err != nil {
		return err
	}
	expiresAt := now.Add(time.Duration(p.SuspicionWindowMinutes) * time.Minute)
	for _, tag := range tags {
		s := domain.TagSuspicion{
			TagHash:        tag,
			SourceReaderID: readerID,
			Multiplier:     p.SuspicionMultiplier,
			ExpiresAt:      expiresAt,
			CreatedAt:      now,
		}
		if err := c.Suspicions.Upsert(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// SuspicionMultiplier is the fraud-sensitivity factor for a tag: the maximum
// active multiplier across all source readers, 1.0 when none apply.
func (c *QuarantineController) SuspicionMultiplier(ctx context.Context, tagHash string) (float64, error) {
	return c.Suspicions.MaxActiveMultiplier(ctx, tagHash, c.now())
}
