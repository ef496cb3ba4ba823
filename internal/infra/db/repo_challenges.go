package db

import (
	"context"
	"errors"

	"tollguard/internal/domain"

	"gorm.io/gorm"
)

type ChallengeRepository struct {
	db *gorm.DB
}

func NewChallengeRepository(db *gorm.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

func (r *ChallengeRepository) CreateBatch(ctx context.Context, challenges []domain.Challenge) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if len(challenges) == 0 {
		return nil
	}
	models := make([]ChallengeModel, 0, len(challenges))
	for i := range challenges {
		challenges[i].ID = newID(challenges[i].ID)
		models = append(models, challengeToModel(challenges[i]))
	}
	return r.db.WithContext(ctx).Create(&models).Error
}

func (r *ChallengeRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ChallengeModel
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return challengeFromModel(model), nil
}

func (r *ChallengeRepository) Update(ctx context.Context, challenge *domain.Challenge) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&ChallengeModel{}).
		Where("id = ?", challenge.ID).
		Updates(map[string]any{
			"result":        string(challenge.Result),
			"attempt_count": challenge.AttemptCount,
			"completed_at":  challenge.CompletedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ChallengeRepository) CountPassed(ctx context.Context, quarantineID string) (int, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ChallengeModel{}).
		Where("quarantine_id = ? AND result = ?", quarantineID, string(domain.ChallengePass)).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *ChallengeRepository) ListByQuarantine(ctx context.Context, quarantineID string) ([]domain.Challenge, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ChallengeModel
	err := r.db.WithContext(ctx).
		Where("quarantine_id = ?", quarantineID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Challenge, 0, len(models))
	for _, model := range models {
		out = append(out, *challengeFromModel(model))
	}
	return out, nil
}
