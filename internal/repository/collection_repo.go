package repository

import (
	"context"
	"errors"

	"github.com/timmy/kbpipe/internal/domain"
	"gorm.io/gorm"
)

// CollectionRepository handles collection data operations.
type CollectionRepository struct {
	db *gorm.DB
}

// NewCollectionRepository creates a new CollectionRepository.
func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

func (r *CollectionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts a collection, joining tx when non-nil.
func (r *CollectionRepository) Create(ctx context.Context, tx *gorm.DB, c *domain.Collection) error {
	return r.conn(tx).WithContext(ctx).Create(c).Error
}

// GetByID retrieves a collection by its ID.
// Returns domain.ErrCollectionNotFound when the collection does not exist.
func (r *CollectionRepository) GetByID(ctx context.Context, id string) (*domain.Collection, error) {
	var c domain.Collection
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCollectionNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListByIDs returns the collections with the given ids.
func (r *CollectionRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Collection, error) {
	var cols []domain.Collection
	if len(ids) == 0 {
		return cols, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&cols).Error
	return cols, err
}

// ListByDatasets returns every collection inside the given datasets.
func (r *CollectionRepository) ListByDatasets(ctx context.Context, teamID string, datasetIDs []string) ([]domain.Collection, error) {
	var cols []domain.Collection
	if len(datasetIDs) == 0 {
		return cols, nil
	}
	err := r.db.WithContext(ctx).
		Where("team_id = ? AND dataset_id IN ?", teamID, datasetIDs).
		Find(&cols).Error
	return cols, err
}

// ListChildren returns the collections nested below a folder collection.
func (r *CollectionRepository) ListChildren(ctx context.Context, teamID, parentID string) ([]domain.Collection, error) {
	var cols []domain.Collection
	err := r.db.WithContext(ctx).
		Where("team_id = ? AND parent_id = ?", teamID, parentID).
		Find(&cols).Error
	return cols, err
}

// CountByDataset returns how many collections a dataset holds, reading through tx when non-nil.
func (r *CollectionRepository) CountByDataset(ctx context.Context, tx *gorm.DB, datasetID string) (int64, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).Model(&domain.Collection{}).
		Where("dataset_id = ?", datasetID).
		Count(&count).Error
	return count, err
}

// UpdateParseResult stores the derived fields produced by a parse pass.
// An empty name leaves the current name untouched.
func (r *CollectionRepository) UpdateParseResult(ctx context.Context, tx *gorm.DB, id, name, hash string, length int) error {
	updates := map[string]interface{}{
		"hash_raw_text":   hash,
		"raw_text_length": length,
	}
	if name != "" {
		updates["name"] = name
	}
	return r.conn(tx).WithContext(ctx).Model(&domain.Collection{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// DeleteByIDs removes collection rows, joining tx when non-nil.
func (r *CollectionRepository) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Where("id IN ?", ids).Delete(&domain.Collection{}).Error
}

// MoveTeam reassigns every collection of the given datasets to another team.
func (r *CollectionRepository) MoveTeam(ctx context.Context, tx *gorm.DB, datasetIDs []string, teamID string) error {
	return r.conn(tx).WithContext(ctx).Model(&domain.Collection{}).
		Where("dataset_id IN ?", datasetIDs).
		Update("team_id", teamID).Error
}
