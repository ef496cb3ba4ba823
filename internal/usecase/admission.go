package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"tollguard/internal/domain"

	"github.com/google/uuid"
)

// AdmissionGate is the sole entry point for inbound toll events. Checks run
// in a fixed order, each short-circuiting on failure; every failure except
// rate limiting and an unknown reader also penalizes the reader's trust and
// runs the quarantine check. The whole decision commits synchronously before
// the event goes anywhere else.
type AdmissionGate struct {
	Readers     ReaderRepository
	Nonces      NonceRepository
	Decisions   DecisionRepository
	Ledger      *TrustLedger
	Quarantine  *QuarantineController
	RateLimiter domain.RateLimiter
	Outliers    *OutlierCheck
	Fraud       FraudScorer
	Gate        PolicyGate
	Policy      PolicySource
	Clock       Clock
}

func (g *AdmissionGate) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now().UTC()
}

func (g *AdmissionGate) Admit(ctx context.Context, event domain.TollEvent) (domain.AdmissionDecision, error) {
	p := g.Policy.Snapshot()
	now := g.now()
	eventID := uuid.NewString()

	// 1. Rate limit. Distinct from malice: a burst may be legitimate
	// traffic, so the penalty is light and never opens a quarantine. A
	// limiter outage fails open but is logged.
	if g.RateLimiter != nil && p.RateLimitEvents > 0 {
		window := time.Duration(p.RateLimitWindowSeconds) * time.Second
		decision, err := g.RateLimiter.Allow(ctx, event.ReaderID, p.RateLimitEvents, window)
		if err != nil {
			log.Printf("rate limiter unavailable, admitting reader %s unthrottled: %v", event.ReaderID, err)
		}
		if err == nil && !decision.Allowed {
			if _, err := g.Ledger.RecordViolation(ctx, event.ReaderID, domain.ViolationRateLimited, "event rate limit exceeded", 1.0); err != nil {
				return domain.AdmissionDecision{}, err
			}
			return g.reject(ctx, eventID, event, domain.ReasonRateLimited, now)
		}
	}

	// 2. Reader existence, status, and signature. Unknown readers have no
	// trust record to penalize; everything else fails closed with a penalty.
	reader, err := g.Readers.Get(ctx, event.ReaderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return g.reject(ctx, eventID, event, domain.ReasonUnknownReader, now)
		}
		return domain.AdmissionDecision{}, err
	}
	if reader.Status != domain.ReaderStatusActive {
		return g.rejectWithViolation(ctx, eventID, event, domain.ReasonReaderRevoked,
			domain.ViolationRevokedReader, "event from revoked reader", now)
	}

	trust, err := g.Ledger.GetTrust(ctx, event.ReaderID)
	if err == nil && trust.QuarantineState != domain.QuarantineStateNormal {
		// A quarantined reader is blocked outright until restoration.
		return g.reject(ctx, eventID, event, domain.ReasonQuarantined, now)
	}

	expected := EventSignature(reader.Secret, event.TagHash, event.ReaderID, event.Timestamp, event.Nonce)
	if !signaturesEqual(event.Signature, expected) {
		return g.rejectWithViolation(ctx, eventID, event, domain.ReasonBadSignature,
			domain.ViolationSignatureMismatch, "HMAC signature mismatch", now)
	}

	// 3. Key version. The signature already matched the active secret, so a
	// version mismatch means a client that survived a rotation it should
	// not have.
	if event.KeyVersion != reader.KeyVersion {
		details := fmt.Sprintf("presented key version %d, active is %d", event.KeyVersion, reader.KeyVersion)
		return g.rejectWithViolation(ctx, eventID, event, domain.ReasonStaleKeyVersion,
			domain.ViolationStaleKeyVersion, details, now)
	}

	// 4. Freshness and replay. The nonce is persisted before any further
	// processing so two concurrent replays cannot both pass.
	drift := now.Unix() - event.Timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(p.MaxDriftSeconds) {
		details := fmt.Sprintf("timestamp drift %ds exceeds %ds", drift, p.MaxDriftSeconds)
		return g.rejectWithViolation(ctx, eventID, event, domain.ReasonStaleTimestamp,
			domain.ViolationStaleTimestamp, details, now)
	}
	if err := g.Nonces.InsertOnce(ctx, event.ReaderID, event.Nonce, now); err != nil {
		if errors.Is(err, domain.ErrNonceReplayed) {
			// A replayed nonce implies a captured, previously valid message.
			return g.rejectWithViolation(ctx, eventID, event, domain.ReasonNonceReplayed,
				domain.ViolationReplayAttack, "nonce already used", now)
		}
		return domain.AdmissionDecision{}, err
	}

	// 5. Cross-reader outlier check. Advisory: a statistical anomaly earns a
	// low-confidence penalty but does not reject the event on its own.
	if g.Outliers != nil {
		if err := g.Outliers.Observe(ctx, event.ReaderID, now); err != nil {
			return domain.AdmissionDecision{}, err
		}
	}

	// 6. Fraud scorer verdict, when a scorer is wired in.
	if g.Fraud != nil {
		score, err := g.Fraud.Score(ctx, event)
		if err != nil {
			return domain.AdmissionDecision{}, fmt.Errorf("fraud scorer: %w", err)
		}
		if score.Combined() >= p.FraudThreshold {
			confidence := score.Combined()
			if score.AnomalyFlag {
				confidence += p.FraudAnomalyBoost
			}
			details := fmt.Sprintf("fraud score %.3f at or above threshold %.3f", score.Combined(), p.FraudThreshold)
			if _, err := g.penalize(ctx, event.ReaderID, domain.ViolationFraudSuspected, details, confidence); err != nil {
				return domain.AdmissionDecision{}, err
			}
			return g.reject(ctx, eventID, event, domain.ReasonFraudSuspected, now)
		}
	}

	// 7. Optional deny-rule hook. It can veto, never un-reject.
	if g.Gate != nil {
		input := GateInput{Event: event}
		if trust != nil {
			input.Trust = GateTrust{
				Score:           trust.Score,
				Status:          string(trust.Status),
				QuarantineState: string(trust.QuarantineState),
			}
		}
		verdict, err := g.Gate.Evaluate(ctx, input)
		if err != nil {
			return domain.AdmissionDecision{}, fmt.Errorf("policy gate: %w", err)
		}
		if !verdict.Allow {
			return g.reject(ctx, eventID, event, domain.ReasonPolicyDenied, now)
		}
	}

	if _, err := g.Ledger.RecordCleanEvent(ctx, event.ReaderID); err != nil {
		return domain.AdmissionDecision{}, err
	}
	if err := g.Decisions.Record(ctx, domain.TollDecision{
		EventID:   eventID,
		TagHash:   event.TagHash,
		ReaderID:  event.ReaderID,
		Nonce:     event.Nonce,
		Decision:  domain.DecisionAccepted,
		Reason:    domain.ReasonOK,
		CreatedAt: now,
	}); err != nil {
		return domain.AdmissionDecision{}, err
	}
	return domain.AdmissionDecision{Accepted: true, Reason: domain.ReasonOK, EventID: eventID}, nil
}

// penalize records a violation and immediately runs the quarantine check on
// the post-penalty score.
func (g *AdmissionGate) penalize(ctx context.Context, readerID string, vtype domain.ViolationType, details string, confidence float64) (*domain.TrustRecord, error) {
	rec, err := g.Ledger.RecordViolation(ctx, readerID, vtype, details, confidence)
	if err != nil {
		return nil, err
	}
	if _, err := g.Quarantine.MaybeQuarantine(ctx, readerID, vtype, rec.Score); err != nil {
		return nil, err
	}
	return rec, nil
}

func (g *AdmissionGate) rejectWithViolation(ctx context.Context, eventID string, event domain.TollEvent, reason string, vtype domain.ViolationType, details string, now time.Time) (domain.AdmissionDecision, error) {
	if _, err := g.penalize(ctx, event.ReaderID, vtype, details, 1.0); err != nil {
		return domain.AdmissionDecision{}, err
	}
	return g.reject(ctx, eventID, event, reason, now)
}

func (g *AdmissionGate) reject(ctx context.Context, eventID string, event domain.TollEvent, reason string, now time.Time) (domain.AdmissionDecision, error) {
	if err := g.Decisions.Record(ctx, domain.TollDecision{
		EventID:   eventID,
		TagHash:   event.TagHash,
		ReaderID:  event.ReaderID,
		Nonce:     event.Nonce,
		Decision:  domain.DecisionRejected,
		Reason:    reason,
		CreatedAt: now,
	}); err != nil {
		return domain.AdmissionDecision{}, err
	}
	return domain.AdmissionDecision{Accepted: false, Reason: reason, EventID: eventID}, nil
}
