package db

import (
	"context"
	"errors"

	"tollguard/internal/domain"

	"gorm.io/gorm"
)

type VoteRepository struct {
	db *gorm.DB
}

func NewVoteRepository(db *gorm.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

func (r *VoteRepository) Create(ctx context.Context, vote *domain.ConsensusVote) error {
	if r.db == nil {
		return errDBUnavailable
	}
	vote.ID = newID(vote.ID)
	model := ConsensusVoteModel{
		ID:            vote.ID,
		QuarantineID:  vote.QuarantineID,
		VoterReaderID: vote.VoterReaderID,
		Vote:          string(vote.Vote),
		Reason:        vote.Reason,
		CreatedAt:     vote.CreatedAt,
	}
	err := r.db.WithContext(ctx).Create(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrAlreadyVoted
		}
		return err
	}
	return nil
}

func (r *VoteRepository) ListByQuarantine(ctx context.Context, quarantineID string) ([]domain.ConsensusVote, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ConsensusVoteModel
	err := r.db.WithContext(ctx).
		Where("quarantine_id = ?", quarantineID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConsensusVote, 0, len(models))
	for _, model := range models {
		out = append(out, voteFromModel(model))
	}
	return out, nil
}
