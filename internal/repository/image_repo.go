package repository

import (
	"context"

	"github.com/timmy/kbpipe/internal/domain"
	"gorm.io/gorm"
)

// ImageRepository handles uploaded dataset images.
type ImageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates a new ImageRepository.
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func (r *ImageRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Create inserts an image row.
func (r *ImageRepository) Create(ctx context.Context, img *domain.DatasetImage) error {
	return r.db.WithContext(ctx).Create(img).Error
}

// ClearExpiryByRelatedID keeps every image uploaded alongside a source document.
func (r *ImageRepository) ClearExpiryByRelatedID(ctx context.Context, tx *gorm.DB, teamID, relatedID string) error {
	if relatedID == "" {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Model(&domain.DatasetImage{}).
		Where("team_id = ? AND related_id = ?", teamID, relatedID).
		Update("expired_time", nil).Error
}

// AttachToCollection keeps the given images and binds them to a collection.
func (r *ImageRepository) AttachToCollection(ctx context.Context, tx *gorm.DB, teamID, collectionID string, imageIDs []string) error {
	if len(imageIDs) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Model(&domain.DatasetImage{}).
		Where("team_id = ? AND id IN ?", teamID, imageIDs).
		Updates(map[string]interface{}{
			"expired_time":  nil,
			"collection_id": collectionID,
		}).Error
}

// ListByCollections returns the images bound to the given collections.
func (r *ImageRepository) ListByCollections(ctx context.Context, teamID string, collectionIDs []string) ([]domain.DatasetImage, error) {
	var images []domain.DatasetImage
	if len(collectionIDs) == 0 {
		return images, nil
	}
	err := r.db.WithContext(ctx).
		Where("team_id = ? AND collection_id IN ?", teamID, collectionIDs).
		Find(&images).Error
	return images, err
}

// ListByRelatedIDs returns the images uploaded alongside the given source documents.
func (r *ImageRepository) ListByRelatedIDs(ctx context.Context, teamID string, relatedIDs []string) ([]domain.DatasetImage, error) {
	var images []domain.DatasetImage
	if len(relatedIDs) == 0 {
		return images, nil
	}
	err := r.db.WithContext(ctx).
		Where("team_id = ? AND related_id IN ?", teamID, relatedIDs).
		Find(&images).Error
	return images, err
}

// MoveTeam reassigns the images bound to the given collections or related documents.
func (r *ImageRepository) MoveTeam(ctx context.Context, tx *gorm.DB, teamID string, collectionIDs, relatedIDs []string, newTeamID string) error {
	if len(collectionIDs) == 0 && len(relatedIDs) == 0 {
		return nil
	}
	q := r.conn(tx).WithContext(ctx).Model(&domain.DatasetImage{}).Where("team_id = ?", teamID)
	switch {
	case len(collectionIDs) > 0 && len(relatedIDs) > 0:
		q = q.Where("collection_id IN ? OR related_id IN ?", collectionIDs, relatedIDs)
	case len(collectionIDs) > 0:
		q = q.Where("collection_id IN ?", collectionIDs)
	default:
		q = q.Where("related_id IN ?", relatedIDs)
	}
	return q.Update("team_id", newTeamID).Error
}

// DeleteByIDs removes image rows.
func (r *ImageRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.DatasetImage{}).Error
}
