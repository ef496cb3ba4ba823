package db

import (
	"context"
	"time"

	"tollguard/internal/domain"

	"gorm.io/gorm"
)

type DecisionRepository struct {
	db *gorm.DB
}

func NewDecisionRepository(db *gorm.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

func (r *DecisionRepository) Record(ctx context.Context, d domain.TollDecision) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := TollDecisionModel{
		ID:        newID(d.ID),
		EventID:   d.EventID,
		TagHash:   d.TagHash,
		ReaderID:  d.ReaderID,
		Nonce:     d.Nonce,
		Decision:  string(d.Decision),
		Reason:    d.Reason,
		CreatedAt: d.CreatedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *DecisionRepository) DistinctTagsSince(ctx context.Context, readerID string, since time.Time) ([]string, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var tags []string
	err := r.db.WithContext(ctx).
		Model(&TollDecisionModel{}).
		Distinct("tag_hash").
		Where("reader_id = ? AND created_at >= ?", readerID, since).
		Pluck("tag_hash", &tags).Error
	if err != nil {
		return nil, err
	}
	return tags, nil
}

func (r *DecisionRepository) CountByReaderSince(ctx context.Context, readerID string, since time.Time) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&TollDecisionModel{}).
		Where("reader_id = ? AND decision = ? AND created_at >= ?",
			readerID, string(domain.DecisionAccepted), since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PeerAverageSince divides the peers' accepted-event total by the number of
// active peers. A fleet of one has no peers and averages to zero.
func (r *DecisionRepository) PeerAverageSince(ctx context.Context, readerID string, since time.Time) (float64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	var peers int64
	err := r.db.WithContext(ctx).
		Model(&ReaderModel{}).
		Where("status = ? AND reader_id <> ?", string(domain.ReaderStatusActive), readerID).
		Count(&peers).Error
	if err != nil {
		return 0, err
	}
	if peers == 0 {
		return 0, nil
	}
	var total int64
	err = r.db.WithContext(ctx).
		Model(&TollDecisionModel{}).
		Where("reader_id <> ? AND decision = ? AND created_at >= ?",
			readerID, string(domain.DecisionAccepted), since).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return float64(total) / float64(peers), nil
}
