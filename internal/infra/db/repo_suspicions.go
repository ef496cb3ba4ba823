package db

import (
	"context"
	"time"

	"tollguard/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SuspicionRepository struct {
	db *gorm.DB
}

func NewSuspicionRepository(db *gorm.DB) *SuspicionRepository {
	return &SuspicionRepository{db: db}
}

// Upsert refreshes the multiplier and expiry when the (tag, source) pair
// already exists, so repeated quarantines extend the suspicion window.
func (r *SuspicionRepository) Upsert(ctx context.Context, s domain.TagSuspicion) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := TagSuspicionModel{
		ID:             newID(s.ID),
		TagHash:        s.TagHash,
		SourceReaderID: s.SourceReaderID,
		Multiplier:     s.Multiplier,
		ExpiresAt:      s.ExpiresAt,
		CreatedAt:      s.CreatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tag_hash"}, {Name: "source_reader_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"multiplier", "expires_at"}),
		}).
		Create(&model).Error
}

func (r *SuspicionRepository) MaxActiveMultiplier(ctx context.Context, tagHash string, now time.Time) (float64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var multiplier float64
	err := r.db.WithContext(ctx).
		Model(&TagSuspicionModel{}).
		Select("COALESCE(MAX(multiplier), 1.0)").
		Where("tag_hash = ? AND expires_at > ?", tagHash, now).
		Scan(&multiplier).Error
	if err != nil {
		return 0, err
	}
	return multiplier, nil
}

func (r *SuspicionRepository) ListActiveByTag(ctx context.Context, tagHash string, now time.Time) ([]domain.TagSuspicion, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []TagSuspicionModel
	err := r.db.WithContext(ctx).
		Where("tag_hash = ? AND expires_at > ?", tagHash, now).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.TagSuspicion, 0, len(models))
	for _, model := range models {
		out = append(out, suspicionFromModel(model))
	}
	return out, nil
}

func (r *SuspicionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&TagSuspicionModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *SuspicionRepository) DeleteBySource(ctx context.Context, readerID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Where("source_reader_id = ?", readerID).
		Delete(&TagSuspicionModel{}).Error
}
