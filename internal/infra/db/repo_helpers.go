package db

import (
	"tollguard/internal/domain"

	"github.com/google/uuid"
)

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func trustFromModel(model TrustRecordModel) *domain.TrustRecord {
	return &domain.TrustRecord{
		ReaderID:        model.ReaderID,
		Score:           model.Score,
		Status:          domain.TrustStatus(model.Status),
		QuarantineState: domain.QuarantineState(model.QuarantineState),
		LastViolationAt: model.LastViolationAt,
		UpdatedAt:       model.UpdatedAt,
		CreatedAt:       model.CreatedAt,
	}
}

func trustToModel(rec domain.TrustRecord) TrustRecordModel {
	return TrustRecordModel{
		ReaderID:        rec.ReaderID,
		Score:           rec.Score,
		Status:          string(rec.Status),
		QuarantineState: string(rec.QuarantineState),
		LastViolationAt: rec.LastViolationAt,
		UpdatedAt:       rec.UpdatedAt,
		CreatedAt:       rec.CreatedAt,
	}
}

func violationFromModel(model ViolationModel) domain.Violation {
	return domain.Violation{
		ID:         model.ID,
		ReaderID:   model.ReaderID,
		Type:       domain.ViolationType(model.Type),
		ScoreDelta: model.ScoreDelta,
		Details:    model.Details,
		CreatedAt:  model.CreatedAt,
	}
}

func violationToModel(v domain.Violation) ViolationModel {
	return ViolationModel{
		ID:         newID(v.ID),
		ReaderID:   v.ReaderID,
		Type:       string(v.Type),
		ScoreDelta: v.ScoreDelta,
		Details:    v.Details,
		CreatedAt:  v.CreatedAt,
	}
}

func quarantineFromModel(model QuarantineRecordModel) *domain.QuarantineRecord {
	return &domain.QuarantineRecord{
		ID:                 model.ID,
		ReaderID:           model.ReaderID,
		Reason:             model.Reason,
		Severity:           model.Severity,
		Status:             domain.QuarantineStatus(model.Status),
		ScoreAtEntry:       model.ScoreAtEntry,
		EnteredAt:          model.EnteredAt,
		ProbationStartedAt: model.ProbationStartedAt,
		ReleasedAt:         model.ReleasedAt,
	}
}

func quarantineToModel(rec domain.QuarantineRecord) QuarantineRecordModel {
	return QuarantineRecordModel{
		ID:                 rec.ID,
		ReaderID:           rec.ReaderID,
		Reason:             rec.Reason,
		Severity:           rec.Severity,
		Status:             string(rec.Status),
		ScoreAtEntry:       rec.ScoreAtEntry,
		EnteredAt:          rec.EnteredAt,
		ProbationStartedAt: rec.ProbationStartedAt,
		ReleasedAt:         rec.ReleasedAt,
	}
}

func challengeFromModel(model ChallengeModel) *domain.Challenge {
	return &domain.Challenge{
		ID:           model.ID,
		ReaderID:     model.ReaderID,
		QuarantineID: model.QuarantineID,
		Type:         domain.ChallengeType(model.Type),
		ExpectedTag:  model.ExpectedTag,
		Nonce:        model.Nonce,
		MaxLatencyMS: model.MaxLatencyMS,
		Result:       domain.ChallengeResult(model.Result),
		AttemptCount: model.AttemptCount,
		MaxAttempts:  model.MaxAttempts,
		CompletedAt:  model.CompletedAt,
		CreatedAt:    model.CreatedAt,
	}
}

func challengeToModel(c domain.Challenge) ChallengeModel {
	return ChallengeModel{
		ID:           newID(c.ID),
		ReaderID:     c.ReaderID,
		QuarantineID: c.QuarantineID,
		Type:         string(c.Type),
		ExpectedTag:  c.ExpectedTag,
		Nonce:        c.Nonce,
		MaxLatencyMS: c.MaxLatencyMS,
		Result:       string(c.Result),
		AttemptCount: c.AttemptCount,
		MaxAttempts:  c.MaxAttempts,
		CompletedAt:  c.CompletedAt,
		CreatedAt:    c.CreatedAt,
	}
}

func voteFromModel(model ConsensusVoteModel) domain.ConsensusVote {
	return domain.ConsensusVote{
		ID:            model.ID,
		QuarantineID:  model.QuarantineID,
		VoterReaderID: model.VoterReaderID,
		Vote:          domain.Vote(model.Vote),
		Reason:        model.Reason,
		CreatedAt:     model.CreatedAt,
	}
}

func suspicionFromModel(model TagSuspicionModel) domain.TagSuspicion {
	return domain.TagSuspicion{
		ID:             model.ID,
		TagHash:        model.TagHash,
		SourceReaderID: model.SourceReaderID,
		Multiplier:     model.Multiplier,
		ExpiresAt:      model.ExpiresAt,
		CreatedAt:      model.CreatedAt,
	}
}
