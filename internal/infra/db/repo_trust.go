package db

import (
	"context"
	"errors"

	"tollguard/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TrustRepository struct {
	db *gorm.DB
}

func NewTrustRepository(db *gorm.DB) *TrustRepository {
	return &TrustRepository{db: db}
}

func (r *TrustRepository) Get(ctx context.Context, readerID string) (*domain.TrustRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model TrustRecordModel
	err := r.db.WithContext(ctx).
		Where("reader_id = ?", readerID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return trustFromModel(model), nil
}

// Mutate serializes all writers of one reader on the trust_records row lock.
// The record is created lazily at initialScore, fn mutates it, and any
// violation fn returns is appended before the transaction commits.
func (r *TrustRepository) Mutate(ctx context.Context, readerID string, initialScore int, fn func(rec *domain.TrustRecord) (*domain.Violation, error)) (*domain.TrustRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var out *domain.TrustRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model TrustRecordModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("reader_id = ?", readerID).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			model = TrustRecordModel{
				ReaderID:        readerID,
				Score:           initialScore,
				Status:          string(domain.TrustStatusTrusted),
				QuarantineState: string(domain.QuarantineStateNormal),
			}
			// A racing creator may win the insert; its duplicate-key failure
			// just means the row now exists, so fall through to the locked
			// read either way.
			if err := tx.Create(&model).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
				return err
			}
			err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("reader_id = ?", readerID).
				First(&model).Error
		}
		if err != nil {
			return err
		}
		rec := trustFromModel(model)
		violation, err := fn(rec)
		if err != nil {
			return err
		}
		updated := trustToModel(*rec)
		updated.CreatedAt = model.CreatedAt
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		if violation != nil {
			vm := violationToModel(*violation)
			if err := tx.Create(&vm).Error; err != nil {
				return err
			}
		}
		out = trustFromModel(updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TrustRepository) ListRecoverable(ctx context.Context, maxScore int) ([]string, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&TrustRecordModel{}).
		Where("score < ? AND quarantine_state = ? AND last_violation_at IS NOT NULL",
			maxScore, string(domain.QuarantineStateNormal)).
		Order("reader_id ASC").
		Pluck("reader_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *TrustRepository) ListViolations(ctx context.Context, readerID string) ([]domain.Violation, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ViolationModel
	err := r.db.WithContext(ctx).
		Where("reader_id = ?", readerID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Violation, 0, len(models))
	for _, model := range models {
		out = append(out, violationFromModel(model))
	}
	return out, nil
}
