package usecase

import (
	"context"
	"fmt"
	"time"

	"tollguard/internal/domain"
)

// OutlierCheck compares a reader's accepted-event rate against the average
// of its peers over a recent window. A reader reporting far more traffic
// than everyone else earns a low-confidence penalty; the signal is
// statistical, so on its own it only nudges the score.
type OutlierCheck struct {
	Decisions  DecisionRepository
	Ledger     *TrustLedger
	Quarantine *QuarantineController
	Policy     PolicySource
}

func (o *OutlierCheck) Observe(ctx context.Context, readerID string, now time.Time) error {
	p := o.Policy.Snapshot()
	since := now.Add(-time.Duration(p.OutlierWindowMinutes) * time.Minute)

	count, err := o.Decisions.CountByReaderSince(ctx, readerID, since)
	if err != nil {
		return err
	}
	peerAvg, err := o.Decisions.PeerAverageSince(ctx, readerID, since)
	if err != nil {
		return err
	}
	if peerAvg <= 0 || float64(count) <= p.OutlierRateMultiple*peerAvg {
		return nil
	}

	details := fmt.Sprintf("event rate %d over %dm vs peer average %.1f", count, p.OutlierWindowMinutes, peerAvg)
	rec, err := o.Ledger.RecordViolation(ctx, readerID, domain.ViolationRateAnomaly, details, p.OutlierConfidence)
	if err != nil {
		return err
	}
	_, err = o.Quarantine.MaybeQuarantine(ctx, readerID, domain.ViolationRateAnomaly, rec.Score)
	return err
}
