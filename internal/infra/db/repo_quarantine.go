package db

import (
	"context"
	"errors"

	"tollguard/internal/domain"

	"gorm.io/gorm"
)

type QuarantineRepository struct {
	db *gorm.DB
}

func NewQuarantineRepository(db *gorm.DB) *QuarantineRepository {
	return &QuarantineRepository{db: db}
}

func (r *QuarantineRepository) Create(ctx context.Context, rec *domain.QuarantineRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	rec.ID = newID(rec.ID)
	model := quarantineToModel(*rec)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *QuarantineRepository) GetByID(ctx context.Context, id string) (*domain.QuarantineRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model QuarantineRecordModel
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return quarantineFromModel(model), nil
}

func (r *QuarantineRepository) OpenForReader(ctx context.Context, readerID string) (*domain.QuarantineRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model QuarantineRecordModel
	err := r.db.WithContext(ctx).
		Where("reader_id = ? AND status IN ?", readerID,
			[]string{string(domain.QuarantineActive), string(domain.QuarantineProbation)}).
		Order("entered_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return quarantineFromModel(model), nil
}

func (r *QuarantineRepository) Update(ctx context.Context, rec *domain.QuarantineRecord) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := quarantineToModel(*rec)
	res := r.db.WithContext(ctx).
		Model(&QuarantineRecordModel{}).
		Where("id = ?", rec.ID).
		Updates(map[string]any{
			"status":               model.Status,
			"probation_started_at": model.ProbationStartedAt,
			"released_at":          model.ReleasedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
