package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tollguard/internal/domain"
)

// ProbationEngine issues graduated challenge transactions to a quarantined
// reader and grades the responses. Probation is invoked explicitly, not
// automatically on quarantine entry.
type ProbationEngine struct {
	Readers     ReaderRepository
	Trust       TrustRepository
	Quarantines QuarantineRepository
	Challenges  ChallengeRepository
	Ledger      *TrustLedger
	Policy      PolicySource
	Clock       Clock
}

func (e *ProbationEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now().UTC()
}

var challengeRotation = []domain.ChallengeType{
	domain.ChallengeKnownTag,
	domain.ChallengeTimingCheck,
	domain.ChallengeSignatureVerify,
}

// IssueChallenges starts probation for a reader with an ACTIVE quarantine.
// The batch size scales with severity: baseRequired + (severity − 1).
// Challenge types rotate round-robin.
func (e *ProbationEngine) IssueChallenges(ctx context.Context, readerID string) ([]domain.Challenge, error) {
	q, err := e.Quarantines.OpenForReader(ctx, readerID)
	if err != nil {
		return nil, domain.ErrNotQuarantined
	}
	if q.Status != domain.QuarantineActive {
		return nil, domain.ErrNotQuarantined
	}

	p := e.Policy.Snapshot()
	count := p.ChallengesRequired + (q.Severity - 1)
	now := e.now()

	challenges := make([]domain.Challenge, 0, count)
	for i := 0; i < count; i++ {
		ctype := challengeRotation[i%len(challengeRotation)]
		if ctype == domain.ChallengeKnownTag && len(p.KnownGoodTags) == 0 {
			ctype = domain.ChallengeSignatureVerify
		}
		ch := domain.Challenge{
			ReaderID:     readerID,
			QuarantineID: q.ID,
			Type:         ctype,
			MaxAttempts:  p.MaxAttemptsPerChallenge,
			CreatedAt:    now,
		}
		switch ctype {
		case domain.ChallengeKnownTag:
			ch.ExpectedTag = p.KnownGoodTags[i%len(p.KnownGoodTags)]
		case domain.ChallengeTimingCheck:
			nonce, err := newNonce()
			if err != nil {
				return nil, err
			}
			ch.Nonce = nonce
			ch.MaxLatencyMS = p.TimingMaxResponseMS
		case domain.ChallengeSignatureVerify:
			nonce, err := newNonce()
			if err != nil {
				return nil, err
			}
			ch.Nonce = nonce
		}
		challenges = append(challenges, ch)
	}
	if err := e.Challenges.CreateBatch(ctx, challenges); err != nil {
		return nil, fmt.Errorf("issue challenges: %w", err)
	}

	q.Status = domain.QuarantineProbation
	t := now
	q.ProbationStartedAt = &t
	if err := e.Quarantines.Update(ctx, q); err != nil {
		return nil, err
	}
	if _, err := e.Trust.Mutate(ctx, readerID, p.InitialScore, func(rec *domain.TrustRecord) (*domain.Violation, error) {
		rec.QuarantineState = domain.QuarantineStateProbation
		rec.UpdatedAt = now
		return nil, nil
	}); err != nil {
		return nil, err
	}
	return challenges, nil
}

// GradeResponse grades one attempt. Exhausting the attempt budget without a
// pass marks the challenge FAIL and counts as a violation in its own right.
func (e *ProbationEngine) GradeResponse(ctx context.Context, readerID, challengeID string, resp domain.ChallengeResponse) (*domain.Challenge, error) {
	ch, err := e.Challenges.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if ch.ReaderID != readerID {
		return nil, domain.ErrNotFound
	}
	if ch.Result != domain.ChallengePending {
		return nil, domain.ErrChallengeTerminal
	}

	ch.AttemptCount++
	passed, err := e.grade(ctx, ch, resp)
	if err != nil {
		return nil, err
	}
	now := e.now()
	switch {
	case passed:
		ch.Result = domain.ChallengePass
		ch.CompletedAt = &now
	case ch.AttemptCount >= ch.MaxAttempts:
		ch.Result = domain.ChallengeFail
		ch.CompletedAt = &now
	}
	if err := e.Challenges.Update(ctx, ch); err != nil {
		return nil, err
	}
	if ch.Result == domain.ChallengeFail {
		details := fmt.Sprintf("probation challenge %s (%s) failed after %d attempts", ch.ID, ch.Type, ch.AttemptCount)
		if _, err := e.Ledger.RecordViolation(ctx, readerID, domain.ViolationProbationFailure, details, 1.0); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

func (e *ProbationEngine) grade(ctx context.Context, ch *domain.Challenge, resp domain.ChallengeResponse) (bool, error) {
	switch ch.Type {
	case domain.ChallengeKnownTag:
		return strings.EqualFold(resp.TagHash, ch.ExpectedTag), nil
	case domain.ChallengeTimingCheck:
		return resp.Nonce == ch.Nonce && resp.ResponseTimeMS > 0 && resp.ResponseTimeMS <= ch.MaxLatencyMS, nil
	case domain.ChallengeSignatureVerify:
		reader, err := e.Readers.Get(ctx, ch.ReaderID)
		if err != nil {
			return false, err
		}
		expected := ChallengeSignature(reader.Secret, ch.ReaderID, ch.Nonce)
		return signaturesEqual(resp.Signature, expected), nil
	default:
		return false, fmt.Errorf("unknown challenge type %q", ch.Type)
	}
}

// AllPassed reports whether the quarantine's full challenge set has been
// passed: PASS count ≥ baseRequired + (severity − 1).
func (e *ProbationEngine) AllPassed(ctx context.Context, quarantineID string) (bool, error) {
	q, err := e.Quarantines.GetByID(ctx, quarantineID)
	if err != nil {
		return false, err
	}
	p := e.Policy.Snapshot()
	required := p.ChallengesRequired + (q.Severity - 1)
	passed, err := e.Challenges.CountPassed(ctx, quarantineID)
	if err != nil {
		return false, err
	}
	return passed >= required, nil
}
