package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TrainingMode determines which worker may claim a task and what payload it carries.
type TrainingMode string

const (
	TrainingModeParse        TrainingMode = "parse"
	TrainingModeChunk        TrainingMode = "chunk"
	TrainingModeIndexEnhance TrainingMode = "indexEnhance"
)

// DefaultRetryCount is the number of claims a new task allows.
const DefaultRetryCount = 5

// InitialLockTime is the lock time given to freshly enqueued tasks so that
// they are claimable immediately under any lease window.
var InitialLockTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// FrozenLockTime parks a task beyond any lease window until an operator clears it.
var FrozenLockTime = time.Date(2999, 5, 5, 0, 0, 0, 0, time.UTC)

// IndexType distinguishes original content indexes from generated or supplied ones.
type IndexType string

const (
	IndexTypeDefault IndexType = "default"
	IndexTypeCustom  IndexType = "custom"
)

// TaskIndex is an index candidate carried by a chunk task before embedding.
type TaskIndex struct {
	Type IndexType `json:"type"`
	Text string    `json:"text"`
}

// TrainingTask represents one unit of pipeline work in the training ledger.
type TrainingTask struct {
	ID           string       `gorm:"type:text;primaryKey" json:"id"`
	TeamID       string       `gorm:"type:text;not null;index" json:"team_id"`
	DatasetID    string       `gorm:"type:text;not null;index" json:"dataset_id"`
	CollectionID string       `gorm:"type:text;not null;index" json:"collection_id"`
	BillID       string       `gorm:"type:text" json:"bill_id,omitempty"`
	Mode         TrainingMode `gorm:"type:text;not null;index:idx_training_claim,priority:1" json:"mode"`

	// chunk payload
	Q          string                          `gorm:"type:text" json:"q,omitempty"`
	A          string                          `gorm:"type:text" json:"a,omitempty"`
	ImageID    string                          `gorm:"type:text" json:"image_id,omitempty"`
	ChunkIndex int                             `json:"chunk_index"`
	Indexes    datatypes.JSONSlice[TaskIndex]  `json:"indexes,omitempty"`
	IndexSize  int                             `json:"index_size,omitempty"`

	// parse and indexEnhance payload
	DataIDs          StringArray `gorm:"type:text" json:"data_ids,omitempty"`
	AutoIndexes      bool        `json:"auto_indexes"`
	AutoIndexesModel string      `gorm:"type:text" json:"auto_indexes_model,omitempty"`
	AutoIndexesSize  int         `json:"auto_indexes_size,omitempty"`

	RetryCount int       `gorm:"not null;default:5;index:idx_training_claim,priority:2" json:"retry_count"`
	LockTime   time.Time `gorm:"not null;index:idx_training_claim,priority:3" json:"lock_time"`
	ErrorMsg   string    `gorm:"type:text" json:"error_msg,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for TrainingTask.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (TrainingTask) TableName() string {
	return "training_tasks"
}

// BeforeCreate fills the id and lease defaults of a new task.
func (t *TrainingTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.LockTime.IsZero() {
		t.LockTime = InitialLockTime
	}
	if t.RetryCount == 0 {
		t.RetryCount = DefaultRetryCount
	}
	return nil
}
