package db

import (
	"context"
	"errors"

	"tollguard/internal/domain"

	"gorm.io/gorm"
)

type ReaderRepository struct {
	db *gorm.DB
}

func NewReaderRepository(db *gorm.DB) *ReaderRepository {
	return &ReaderRepository{db: db}
}

func (r *ReaderRepository) Get(ctx context.Context, readerID string) (*domain.Reader, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ReaderModel
	err := r.db.WithContext(ctx).
		Where("reader_id = ?", readerID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return readerFromModel(model), nil
}

func (r *ReaderRepository) Create(ctx context.Context, reader domain.Reader) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := ReaderModel{
		ReaderID:   reader.ID,
		Secret:     reader.Secret,
		KeyVersion: reader.KeyVersion,
		Status:     string(reader.Status),
		CreatedAt:  reader.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *ReaderRepository) UpdateSecret(ctx context.Context, readerID, secret string, keyVersion int) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&ReaderModel{}).
		Where("reader_id = ?", readerID).
		Updates(map[string]any{"secret": secret, "key_version": keyVersion})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ReaderRepository) UpdateStatus(ctx context.Context, readerID string, status domain.ReaderStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&ReaderModel{}).
		Where("reader_id = ?", readerID).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ReaderRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&ReaderModel{}).
		Where("status = ?", string(domain.ReaderStatusActive)).
		Order("reader_id ASC").
		Pluck("reader_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func readerFromModel(model ReaderModel) *domain.Reader {
	return &domain.Reader{
		ID:         model.ReaderID,
		Secret:     model.Secret,
		KeyVersion: model.KeyVersion,
		Status:     domain.ReaderStatus(model.Status),
		CreatedAt:  model.CreatedAt,
	}
}
