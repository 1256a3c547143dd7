package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CollectionType represents where a collection's raw content comes from.
type CollectionType string

const (
	CollectionTypeFolder       CollectionType = "folder"
	CollectionTypeVirtual      CollectionType = "virtual"
	CollectionTypeFile         CollectionType = "file"
	CollectionTypeLink         CollectionType = "link"
	CollectionTypeAPIFile      CollectionType = "apiFile"
	CollectionTypeExternalFile CollectionType = "externalFile"
	CollectionTypeImages       CollectionType = "images"
)

// TrainingType represents how a collection's content is turned into data.
// TrainingTypeAuto is a deprecated alias normalized to TrainingTypeChunk with auto indexes.
type TrainingType string

const (
	TrainingTypeChunk    TrainingType = "chunk"
	TrainingTypeQA       TrainingType = "qa"
	TrainingTypeBackup   TrainingType = "backup"
	TrainingTypeTemplate TrainingType = "template"
	TrainingTypeAuto     TrainingType = "auto"
)

// ChunkTriggerType represents the policy deciding whether raw text is split at all.
type ChunkTriggerType string

const (
	ChunkTriggerMinSize    ChunkTriggerType = "minSize"
	ChunkTriggerMaxSize    ChunkTriggerType = "maxSize"
	ChunkTriggerForceChunk ChunkTriggerType = "forceChunk"
)

// ParagraphAIMode controls the optional LLM paragraph restructuring pass.
type ParagraphAIMode string

const (
	ParagraphAIForbid ParagraphAIMode = "forbid"
	ParagraphAIAuto   ParagraphAIMode = "auto"
	ParagraphAIForce  ParagraphAIMode = "force"
)

// CollectionMetadata holds loosely structured collection attributes.
type CollectionMetadata struct {
	RelatedImgID    string `json:"relatedImgId,omitempty"`
	WebPageSelector string `json:"webPageSelector,omitempty"`
}

// Collection represents one ingested source document or link within a dataset.
type Collection struct {
	ID        string         `gorm:"type:text;primaryKey" json:"id"`
	TeamID    string         `gorm:"type:text;not null;index" json:"team_id"`
	DatasetID string         `gorm:"type:text;not null;index" json:"dataset_id"`
	ParentID  *string        `gorm:"type:text;index" json:"parent_id,omitempty"`
	Name      string         `gorm:"type:text;not null" json:"name"`
	Type      CollectionType `gorm:"type:text;not null" json:"type"`

	FileID          string `gorm:"type:text" json:"file_id,omitempty"`
	RawLink         string `gorm:"type:text" json:"raw_link,omitempty"`
	APIFileID       string `gorm:"type:text" json:"api_file_id,omitempty"`
	ExternalFileID  string `gorm:"type:text" json:"external_file_id,omitempty"`
	ExternalFileURL string `gorm:"type:text" json:"external_file_url,omitempty"`

	TrainingType         TrainingType     `gorm:"type:text;default:chunk" json:"training_type"`
	ChunkTriggerType     ChunkTriggerType `gorm:"type:text" json:"chunk_trigger_type,omitempty"`
	ChunkTriggerMinSize  int              `json:"chunk_trigger_min_size,omitempty"`
	ChunkSize            int              `json:"chunk_size,omitempty"`
	IndexSize            int              `json:"index_size,omitempty"`
	ParagraphChunkAIMode ParagraphAIMode  `gorm:"type:text" json:"paragraph_chunk_ai_mode,omitempty"`
	ParagraphChunkDeep   int              `json:"paragraph_chunk_deep,omitempty"`
	ParagraphChunkMin    int              `json:"paragraph_chunk_min_size,omitempty"`
	ChunkSplitter        string           `gorm:"type:text" json:"chunk_splitter,omitempty"`
	QAPrompt             string           `gorm:"type:text" json:"qa_prompt,omitempty"`
	AutoIndexes          bool             `json:"auto_indexes"`
	AutoIndexesModel     string           `gorm:"type:text" json:"auto_indexes_model,omitempty"`
	AutoIndexesSize      int              `json:"auto_indexes_size,omitempty"`

	Metadata datatypes.JSONType[CollectionMetadata] `json:"metadata"`

	HashRawText   string     `gorm:"type:text" json:"hash_raw_text,omitempty"`
	RawTextLength int        `json:"raw_text_length"`
	NextSyncTime  *time.Time `json:"next_sync_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Collection.
func (Collection) TableName() string {
	return "dataset_collections"
}

// BeforeCreate assigns an id when the caller did not provide one.
func (c *Collection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID()
	}
	return nil
}

// SourceDescriptor identifies the raw content behind a collection.
type SourceDescriptor struct {
	Type           CollectionType
	SourceID       string
	Selector       string
	ExternalFileID string
	Filename       string
}

// Source resolves the collection's source descriptor from its type.
// Returns ErrSourceMissing when the type-specific field is empty and
// ErrUnsupportedSource for types that carry no readable source.
func (c *Collection) Source() (*SourceDescriptor, error) {
	switch c.Type {
	case CollectionTypeLink:
		if c.RawLink == "" {
			return nil, ErrSourceMissing
		}
		return &SourceDescriptor{Type: c.Type, SourceID: c.RawLink, Selector: c.Metadata.Data().WebPageSelector}, nil
	case CollectionTypeFile:
		if c.FileID == "" {
			return nil, ErrSourceMissing
		}
		return &SourceDescriptor{Type: c.Type, SourceID: c.FileID, Filename: c.Name}, nil
	case CollectionTypeAPIFile:
		if c.APIFileID == "" {
			return nil, ErrSourceMissing
		}
		return &SourceDescriptor{Type: c.Type, SourceID: c.APIFileID, Filename: c.Name}, nil
	case CollectionTypeExternalFile:
		if c.ExternalFileURL == "" {
			return nil, ErrSourceMissing
		}
		return &SourceDescriptor{
			Type:           c.Type,
			SourceID:       c.ExternalFileURL,
			ExternalFileID: c.ExternalFileID,
			Filename:       c.Name,
		}, nil
	default:
		return nil, ErrUnsupportedSource
	}
}
