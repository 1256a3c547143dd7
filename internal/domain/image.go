package domain

import (
	"time"

	"gorm.io/gorm"
)

// DatasetImage represents an uploaded image referenced by dataset content.
// Images carry an expiry until something references them; ExpiredTime nil means kept.
type DatasetImage struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id"`
	TeamID       string     `gorm:"type:text;not null;index" json:"team_id"`
	DatasetID    string     `gorm:"type:text;index" json:"dataset_id,omitempty"`
	CollectionID string     `gorm:"type:text;index" json:"collection_id,omitempty"`
	RelatedID    string     `gorm:"type:text;index" json:"related_id,omitempty"`
	StorageKey   string     `gorm:"type:text" json:"storage_key"`
	ExpiredTime  *time.Time `gorm:"index" json:"expired_time,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName returns the database table name for DatasetImage.
func (DatasetImage) TableName() string {
	return "dataset_images"
}

// BeforeCreate assigns an id to new image rows.
func (i *DatasetImage) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = NewID()
	}
	return nil
}
