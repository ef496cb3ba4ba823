package db

import (
	"context"
	"errors"
	"time"

	"tollguard/internal/domain"

	"gorm.io/gorm"
)

type NonceRepository struct {
	db *gorm.DB
}

func NewNonceRepository(db *gorm.DB) *NonceRepository {
	return &NonceRepository{db: db}
}

// InsertOnce relies on the (reader_id, nonce) unique index so exactly one of
// two racing inserts wins; the loser gets domain.ErrNonceReplayed.
func (r *NonceRepository) InsertOnce(ctx context.Context, readerID, nonce string, seenAt time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := NonceRecordModel{
		ReaderID: readerID,
		Nonce:    nonce,
		SeenAt:   seenAt,
	}
	err := r.db.WithContext(ctx).Create(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrNonceReplayed
		}
		return err
	}
	return nil
}

func (r *NonceRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Where("seen_at < ?", cutoff).
		Delete(&NonceRecordModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
