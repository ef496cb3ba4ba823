package usecase

import (
	"context"
	"time"

	"tollguard/internal/domain"
)

// ConsensusValidator collects peer votes on whether a quarantined reader may
// be restored. A compromised peer cannot vouch for another: quarantined
// readers are never eligible voters.
type ConsensusValidator struct {
	Readers     ReaderRepository
	Trust       TrustRepository
	Quarantines QuarantineRepository
	Votes       VoteRepository
	Policy      PolicySource
	Clock       Clock
}

func (v *ConsensusValidator) now() time.Time {
	if v.Clock != nil {
		return v.Clock()
	}
	return time.Now().UTC()
}

// CastVote records one peer opinion. Self-votes, duplicate votes, and votes
// from readers that are revoked or themselves quarantined are rejected.
func (v *ConsensusValidator) CastVote(ctx context.Context, quarantineID, voterReaderID string, vote domain.Vote, reason string) (*domain.ConsensusVote, error) {
	q, err := v.Quarantines.GetByID(ctx, quarantineID)
	if err != nil {
		return nil, err
	}
	if voterReaderID == q.ReaderID {
		return nil, domain.ErrSelfVote
	}
	voter, err := v.Readers.Get(ctx, voterReaderID)
	if err != nil {
		return nil, domain.ErrVoterNotEligible
	}
	if voter.Status != domain.ReaderStatusActive {
		return nil, domain.ErrVoterNotEligible
	}
	voterTrust, err := v.Trust.Get(ctx, voterReaderID)
	if err == nil && voterTrust.QuarantineState != domain.QuarantineStateNormal {
		return nil, domain.ErrVoterNotEligible
	}

	rec := &domain.ConsensusVote{
		QuarantineID:  quarantineID,
		VoterReaderID: voterReaderID,
		Vote:          vote,
		Reason:        reason,
		CreatedAt:     v.now(),
	}
	if err := v.Votes.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Evaluate tallies the votes. Consensus is not reached below minVoters;
// once reached, approval requires approve/total ≥ approvalThreshold.
func (v *ConsensusValidator) Evaluate(ctx context.Context, quarantineID string) (domain.ConsensusResult, error) {
	p := v.Policy.Snapshot()
	votes, err := v.Votes.ListByQuarantine(ctx, quarantineID)
	if err != nil {
		return domain.ConsensusResult{}, err
	}
	result := domain.ConsensusResult{
		TotalVotes:    len(votes),
		RequiredVotes: p.MinVoters,
	}
	for _, vote := range votes {
		if vote.Vote == domain.VoteApprove {
			result.ApproveCount++
		} else {
			result.RejectCount++
		}
	}
	if result.TotalVotes < p.MinVoters {
		return result, nil
	}
	result.Reached = true
	result.ApprovalRatio = float64(result.ApproveCount) / float64(result.TotalVotes)
	result.Approved = result.ApprovalRatio >= p.ApprovalThreshold
	return result, nil
}

// EligibleVoters lists the readers that may vote on a quarantine, so peer
// devices can be solicited.
func (v *ConsensusValidator) EligibleVoters(ctx context.Context, quarantineID string) ([]string, error) {
	q, err := v.Quarantines.GetByID(ctx, quarantineID)
	if err != nil {
		return nil, err
	}
	active, err := v.Readers.ListActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]string, 0, len(active))
	for _, id := range active {
		if id == q.ReaderID {
			continue
		}
		trust, err := v.Trust.Get(ctx, id)
		if err == nil && trust.QuarantineState != domain.QuarantineStateNormal {
			continue
		}
		eligible = append(eligible, id)
	}
	return eligible, nil
}
