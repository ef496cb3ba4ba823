package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"tollguard/internal/domain"
)

// TrustLedger owns every mutation of a reader's trust score. All writes go
// through TrustRepository.Mutate, which serializes per reader, so a decay
// recovery racing a violation penalty cannot lose either update.
type TrustLedger struct {
	Readers ReaderRepository
	Trust   TrustRepository
	Policy  PolicySource
	Clock   Clock
}

func (l *TrustLedger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}

// RecordViolation penalizes a reader. Confidence scales how much a
// probabilistic signal is trusted; deterministic call sites pass 1.0.
// The applied delta is basePenalty × weight × clamp(confidence, 0.5, 1.0).
// Returns the record after the penalty so the caller can run the
// quarantine check.
func (l *TrustLedger) RecordViolation(ctx context.Context, readerID string, vtype domain.ViolationType, details string, confidence float64) (*domain.TrustRecord, error) {
	p := l.Policy.Snapshot()
	base, weight := p.PenaltyFor(vtype)
	applied := int(math.Round(float64(base) * weight * domain.ClampConfidence(confidence)))
	now := l.now()

	rec, err := l.Trust.Mutate(ctx, readerID, p.InitialScore, func(rec *domain.TrustRecord) (*domain.Violation, error) {
		rec.Score = domain.ClampScore(rec.Score - applied)
		rec.Status = p.StatusFor(rec.Score)
		t := now
		rec.LastViolationAt = &t
		rec.UpdatedAt = now
		return &domain.Violation{
			ReaderID:   readerID,
			Type:       vtype,
			ScoreDelta: -applied,
			Details:    details,
			CreatedAt:  now,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record violation: %w", err)
	}

	// Severe degradation is treated as presumptive compromise: invalidate
	// the current secret so a captured credential stops working.
	if rec.Score < p.RotateKeyBelow {
		if err := l.rotateSecret(ctx, readerID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return rec, fmt.Errorf("rotate key after violation: %w", err)
		}
	}
	return rec, nil
}

// RecordCleanEvent applies the clean-transaction reward. Quarantined readers
// earn nothing; release goes through the restoration orchestrator only.
func (l *TrustLedger) RecordCleanEvent(ctx context.Context, readerID string) (*domain.TrustRecord, error) {
	p := l.Policy.Snapshot()
	now := l.now()
	return l.Trust.Mutate(ctx, readerID, p.InitialScore, func(rec *domain.TrustRecord) (*domain.Violation, error) {
		if rec.QuarantineState != domain.QuarantineStateNormal {
			return nil, nil
		}
		next := domain.ClampScore(rec.Score + p.CleanReward)
		if next == rec.Score {
			return nil, nil
		}
		rec.Score = next
		rec.Status = p.StatusFor(rec.Score)
		rec.UpdatedAt = now
		return nil, nil
	})
}

// RecoverByDecay applies time-decay rehabilitation:
//
//	recovered = floor(rate × ln(1 + hoursSinceLastViolation))
//
// capped at MaxRecoveryCap. Logarithmic on purpose: an isolated incident is
// forgiven quickly, a chronic offender flattens out well below full trust.
// Quarantined readers never recover by waiting.
func (l *TrustLedger) RecoverByDecay(ctx context.Context, readerID string) (int, error) {
	p := l.Policy.Snapshot()
	now := l.now()
	recovered := 0
	_, err := l.Trust.Mutate(ctx, readerID, p.InitialScore, func(rec *domain.TrustRecord) (*domain.Violation, error) {
		if rec.QuarantineState != domain.QuarantineStateNormal {
			return nil, nil
		}
		if rec.LastViolationAt == nil || rec.Score >= p.MaxRecoveryCap {
			return nil, nil
		}
		hours := now.Sub(*rec.LastViolationAt).Hours()
		if hours < p.MinHoursBeforeRecovery {
			return nil, nil
		}
		points := int(math.Floor(p.RecoveryRatePerHour * math.Log(1+hours)))
		next := rec.Score + points
		if next > p.MaxRecoveryCap {
			next = p.MaxRecoveryCap
		}
		if next <= rec.Score {
			return nil, nil
		}
		recovered = next - rec.Score
		rec.Score = next
		rec.Status = p.StatusFor(rec.Score)
		rec.UpdatedAt = now
		return nil, nil
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

// ResetTrust is the administrative override back to full trust.
func (l *TrustLedger) ResetTrust(ctx context.Context, readerID string) (*domain.TrustRecord, error) {
	p := l.Policy.Snapshot()
	now := l.now()
	return l.Trust.Mutate(ctx, readerID, p.InitialScore, func(rec *domain.TrustRecord) (*domain.Violation, error) {
		rec.Score = 100
		rec.Status = domain.TrustStatusTrusted
		rec.QuarantineState = domain.QuarantineStateNormal
		rec.LastViolationAt = nil
		rec.UpdatedAt = now
		return nil, nil
	})
}

func (l *TrustLedger) GetTrust(ctx context.Context, readerID string) (*domain.TrustRecord, error) {
	return l.Trust.Get(ctx, readerID)
}

func (l *TrustLedger) ListViolations(ctx context.Context, readerID string) ([]domain.Violation, error) {
	return l.Trust.ListViolations(ctx, readerID)
}

func (l *TrustLedger) rotateSecret(ctx context.Context, readerID string) error {
	reader, err := l.Readers.Get(ctx, readerID)
	if err != nil {
		return err
	}
	secret, err := newSecret()
	if err != nil {
		return err
	}
	return l.Readers.UpdateSecret(ctx, readerID, secret, reader.KeyVersion+1)
}
