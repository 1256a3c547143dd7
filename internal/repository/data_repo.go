package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/kbpipe/internal/domain"
	"gorm.io/gorm"
)

// DataRepository handles dataset data and index operations.
type DataRepository struct {
	db *gorm.DB
}

// NewDataRepository creates a new DataRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *DataRepository: repository instance bound to db.
func NewDataRepository(db *gorm.DB) *DataRepository {
	return &DataRepository{db: db}
}

func (r *DataRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts a data row together with its index rows.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: optional transaction to join.
//   - data: data row; Indexes are created in the same statement batch.
// Returns:
//   - error: non-nil if the insert fails.
func (r *DataRepository) Create(ctx context.Context, tx *gorm.DB, data *domain.DatasetData) error {
	for i := range data.Indexes {
		data.Indexes[i].DatasetID = data.DatasetID
		data.Indexes[i].CollectionID = data.CollectionID
	}
	return r.conn(tx).WithContext(ctx).Create(data).Error
}

// GetByID retrieves a data row with its indexes in position order.
// Returns domain.ErrDataNotFound when the row does not exist.
func (r *DataRepository) GetByID(ctx context.Context, id string) (*domain.DatasetData, error) {
	var data domain.DatasetData
	err := r.db.WithContext(ctx).
		Preload("Indexes", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&data, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDataNotFound
		}
		return nil, err
	}
	return &data, nil
}

// ListByCollection returns the data rows of a collection in chunk order.
func (r *DataRepository) ListByCollection(ctx context.Context, collectionID string) ([]domain.DatasetData, error) {
	var rows []domain.DatasetData
	err := r.db.WithContext(ctx).
		Preload("Indexes", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("collection_id = ?", collectionID).
		Order("chunk_index ASC").
		Find(&rows).Error
	return rows, err
}

// ListIDs returns up to limit data ids of a dataset, optionally narrowed to one collection.
func (r *DataRepository) ListIDs(ctx context.Context, datasetID, collectionID string, limit int) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&domain.DatasetData{}).Where("dataset_id = ?", datasetID)
	if collectionID != "" {
		q = q.Where("collection_id = ?", collectionID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []string
	err := q.Order("chunk_index ASC").Pluck("id", &ids).Error
	return ids, err
}

// ListByIDs returns the data rows with the given ids, without indexes.
func (r *DataRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.DatasetData, error) {
	var rows []domain.DatasetData
	if len(ids) == 0 {
		return rows, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error
	return rows, err
}

// AppendIndexes adds index rows to existing data and bumps its update time.
func (r *DataRepository) AppendIndexes(ctx context.Context, tx *gorm.DB, dataID string, indexes []domain.DatasetDataIndex) error {
	db := r.conn(tx).WithContext(ctx)
	if len(indexes) > 0 {
		if err := db.Create(&indexes).Error; err != nil {
			return err
		}
	}
	return db.Model(&domain.DatasetData{}).
		Where("id = ?", dataID).
		Update("update_time", time.Now()).Error
}

// CountByCollection returns how many data rows a collection holds.
func (r *DataRepository) CountByCollection(ctx context.Context, collectionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.DatasetData{}).
		Where("collection_id = ?", collectionID).
		Count(&count).Error
	return count, err
}

// DeleteByCollections removes data rows and their indexes for the given collections.
func (r *DataRepository) DeleteByCollections(ctx context.Context, teamID string, collectionIDs []string) error {
	if len(collectionIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id IN ?", collectionIDs).
			Delete(&domain.DatasetDataIndex{}).Error; err != nil {
			return err
		}
		return tx.Where("team_id = ? AND collection_id IN ?", teamID, collectionIDs).
			Delete(&domain.DatasetData{}).Error
	})
}

// MoveTeam reassigns the data rows of the given datasets to another team.
func (r *DataRepository) MoveTeam(ctx context.Context, tx *gorm.DB, datasetIDs []string, teamID string) error {
	return r.conn(tx).WithContext(ctx).Model(&domain.DatasetData{}).
		Where("dataset_id IN ?", datasetIDs).
		Update("team_id", teamID).Error
}

// ListIndexesByVectorIDs returns the index rows that own the given vector ids.
func (r *DataRepository) ListIndexesByVectorIDs(ctx context.Context, vectorIDs []string) ([]domain.DatasetDataIndex, error) {
	var rows []domain.DatasetDataIndex
	if len(vectorIDs) == 0 {
		return rows, nil
	}
	err := r.db.WithContext(ctx).Where("vector_id IN ?", vectorIDs).Find(&rows).Error
	return rows, err
}
