package domain

import (
	"time"

	"gorm.io/gorm"
)

// UsageMode labels what a usage push paid for.
type UsageMode string

const (
	UsageModeEmbedding    UsageMode = "embedding"
	UsageModeParagraph    UsageMode = "paragraph"
	UsageModeIndexEnhance UsageMode = "indexEnhance"
	UsageModeAutoIndex    UsageMode = "autoIndex"
)

// TrainingBill correlates all usage produced by one training run.
type TrainingBill struct {
	ID          string    `gorm:"type:text;primaryKey" json:"id"`
	TeamID      string    `gorm:"type:text;not null;index" json:"team_id"`
	AppName     string    `gorm:"type:text" json:"app_name"`
	VectorModel string    `gorm:"type:text" json:"vector_model,omitempty"`
	AgentModel  string    `gorm:"type:text" json:"agent_model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for TrainingBill.
func (TrainingBill) TableName() string {
	return "training_bills"
}

// BeforeCreate assigns an id to new bills.
func (b *TrainingBill) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = NewID()
	}
	return nil
}

// UsageRecord is one usage push against a bill.
type UsageRecord struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	BillID       string    `gorm:"type:text;index" json:"bill_id"`
	TeamID       string    `gorm:"type:text;index" json:"team_id"`
	Model        string    `gorm:"type:text" json:"model"`
	Mode         UsageMode `gorm:"type:text" json:"mode"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for UsageRecord.
func (UsageRecord) TableName() string {
	return "training_usages"
}
