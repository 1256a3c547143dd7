package domain

import (
	"time"

	"gorm.io/gorm"
)

// DatasetType represents the kind of a dataset node.
type DatasetType string

const (
	DatasetTypeFolder    DatasetType = "folder"
	DatasetTypeDataset   DatasetType = "dataset"
	DatasetTypeWebsite   DatasetType = "websiteDataset"
	DatasetTypeEphemeral DatasetType = "ephemeral"
)

// Dataset represents a knowledge base node. Datasets form a tree through ParentID.
type Dataset struct {
	ID          string      `gorm:"type:text;primaryKey" json:"id"`
	TeamID      string      `gorm:"type:text;not null;index" json:"team_id"`
	ParentID    *string     `gorm:"type:text;index" json:"parent_id,omitempty"`
	Name        string      `gorm:"type:text;not null" json:"name"`
	Type        DatasetType `gorm:"type:text;default:dataset" json:"type"`
	VectorModel string      `gorm:"type:text" json:"vector_model"`
	AgentModel  string      `gorm:"type:text" json:"agent_model"`
	AutoSync    bool        `gorm:"default:false" json:"auto_sync"`
	UpdateTime  time.Time   `json:"update_time"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TableName returns the database table name for Dataset.
func (Dataset) TableName() string {
	return "datasets"
}

// BeforeCreate assigns an id and an initial update time.
func (d *Dataset) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.UpdateTime.IsZero() {
		d.UpdateTime = time.Now()
	}
	return nil
}
