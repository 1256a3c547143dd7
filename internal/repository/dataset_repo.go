package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/kbpipe/internal/domain"
	"gorm.io/gorm"
)

// DatasetRepository handles dataset data operations.
type DatasetRepository struct {
	db *gorm.DB
}

// NewDatasetRepository creates a new DatasetRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *DatasetRepository: repository instance bound to db.
func NewDatasetRepository(db *gorm.DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

func (r *DatasetRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts a new dataset record.
func (r *DatasetRepository) Create(ctx context.Context, d *domain.Dataset) error {
	return r.db.WithContext(ctx).Create(d).Error
}

// GetByID retrieves a dataset by its ID, joining tx when non-nil.
// Returns domain.ErrDatasetNotFound when the dataset does not exist.
func (r *DatasetRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*domain.Dataset, error) {
	var d domain.Dataset
	if err := r.conn(tx).WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDatasetNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListChildren returns the direct children of the given datasets.
func (r *DatasetRepository) ListChildren(ctx context.Context, teamID string, parentIDs []string) ([]domain.Dataset, error) {
	var children []domain.Dataset
	if len(parentIDs) == 0 {
		return children, nil
	}
	err := r.db.WithContext(ctx).
		Where("team_id = ? AND parent_id IN ?", teamID, parentIDs).
		Find(&children).Error
	return children, err
}

// ListByIDs returns the datasets with the given ids.
func (r *DatasetRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Dataset, error) {
	var datasets []domain.Dataset
	if len(ids) == 0 {
		return datasets, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&datasets).Error
	return datasets, err
}

// Touch sets update_time on a single dataset, joining tx when non-nil.
func (r *DatasetRepository) Touch(ctx context.Context, tx *gorm.DB, id string, at time.Time) error {
	return r.conn(tx).WithContext(ctx).Model(&domain.Dataset{}).
		Where("id = ?", id).
		Update("update_time", at).Error
}

// DeleteByIDs removes dataset rows.
func (r *DatasetRepository) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Dataset{}).Error
}

// MoveTeam reassigns datasets to another team.
func (r *DatasetRepository) MoveTeam(ctx context.Context, tx *gorm.DB, ids []string, teamID string) error {
	return r.conn(tx).WithContext(ctx).Model(&domain.Dataset{}).
		Where("id IN ?", ids).
		Update("team_id", teamID).Error
}
