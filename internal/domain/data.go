package domain

import (
	"time"

	"gorm.io/gorm"
)

// DatasetData represents a finalized, queryable unit produced from one chunk.
type DatasetData struct {
	ID           string             `gorm:"type:text;primaryKey" json:"id"`
	TeamID       string             `gorm:"type:text;not null;index:idx_data_owner,priority:1" json:"team_id"`
	DatasetID    string             `gorm:"type:text;not null;index:idx_data_owner,priority:2" json:"dataset_id"`
	CollectionID string             `gorm:"type:text;not null;index:idx_data_owner,priority:3" json:"collection_id"`
	ChunkIndex   int                `gorm:"default:0" json:"chunk_index"`
	Q            string             `gorm:"type:text" json:"q"`
	A            string             `gorm:"type:text" json:"a"`
	ImageID      string             `gorm:"type:text" json:"image_id,omitempty"`
	Indexes      []DatasetDataIndex `gorm:"foreignKey:DataID;constraint:OnDelete:CASCADE" json:"indexes"`
	UpdateTime   time.Time          `json:"update_time"`
	CreatedAt    time.Time          `json:"created_at"`
}

// TableName returns the database table name for DatasetData.
func (DatasetData) TableName() string {
	return "dataset_datas"
}

// BeforeCreate assigns an id and update time to new data rows.
func (d *DatasetData) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = NewID()
	}
	if d.UpdateTime.IsZero() {
		d.UpdateTime = time.Now()
	}
	return nil
}

// IndexTexts returns the text of every index in position order.
func (d *DatasetData) IndexTexts() []string {
	texts := make([]string, 0, len(d.Indexes))
	for _, idx := range d.Indexes {
		texts = append(texts, idx.Text)
	}
	return texts
}

// DatasetDataIndex is one separately embedded search string of a DatasetData row.
// VectorID is the id issued by the vector store for this text's embedding.
type DatasetDataIndex struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	DataID       string    `gorm:"type:text;not null;index" json:"data_id"`
	DatasetID    string    `gorm:"type:text;not null;index" json:"dataset_id"`
	CollectionID string    `gorm:"type:text;not null;index" json:"collection_id"`
	Type         IndexType `gorm:"type:text;not null" json:"type"`
	Text         string    `gorm:"type:text;not null" json:"text"`
	VectorID     string    `gorm:"type:text;index" json:"vector_id"`
	Position     int       `json:"position"`
}

// TableName returns the database table name for DatasetDataIndex.
func (DatasetDataIndex) TableName() string {
	return "dataset_data_indexes"
}

// BeforeCreate assigns an id to new index rows.
func (i *DatasetDataIndex) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = NewID()
	}
	return nil
}
