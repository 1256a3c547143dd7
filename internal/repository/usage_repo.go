package repository

import (
	"context"

	"github.com/timmy/kbpipe/internal/domain"
	"gorm.io/gorm"
)

// UsageRepository stores training bills and their usage records.
type UsageRepository struct {
	db *gorm.DB
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// CreateBill inserts a bill, joining tx when non-nil.
func (r *UsageRepository) CreateBill(ctx context.Context, tx *gorm.DB, bill *domain.TrainingBill) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(bill).Error
}

// AddRecord appends one usage record.
func (r *UsageRepository) AddRecord(ctx context.Context, rec *domain.UsageRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// ListByBill returns every usage record of a bill in insertion order.
func (r *UsageRepository) ListByBill(ctx context.Context, billID string) ([]domain.UsageRecord, error) {
	var records []domain.UsageRecord
	err := r.db.WithContext(ctx).Where("bill_id = ?", billID).Order("id ASC").Find(&records).Error
	return records, err
}
