package domain

import "fmt"

// CollectionSettings is the flat set of processing options a caller may send.
// It is mapped once into a TrainingConfig variant; fields irrelevant to the
// chosen training type never reach the stored collection.
type CollectionSettings struct {
	TrainingType        TrainingType     `json:"training_type"`
	ChunkTriggerType    ChunkTriggerType `json:"chunk_trigger_type"`
	ChunkTriggerMinSize int              `json:"chunk_trigger_min_size"`
	ChunkSize           int              `json:"chunk_size"`
	IndexSize           int              `json:"index_size"`
	ParagraphAIMode     ParagraphAIMode  `json:"paragraph_chunk_ai_mode"`
	ParagraphDeep       int              `json:"paragraph_chunk_deep"`
	ParagraphMinSize    int              `json:"paragraph_chunk_min_size"`
	ChunkSplitter       string           `json:"chunk_splitter"`
	QAPrompt            string           `json:"qa_prompt"`
	AutoIndexes         bool             `json:"auto_indexes"`
	AutoIndexesModel    string           `json:"auto_indexes_model"`
	AutoIndexesSize     int              `json:"auto_indexes_size"`
}

// SplitConfig groups the options used by the general-purpose splitter.
type SplitConfig struct {
	ChunkSize        int
	IndexSize        int
	ParagraphAIMode  ParagraphAIMode
	ParagraphDeep    int
	ParagraphMinSize int
	Splitter         string
}

// TrainingConfig is a tagged variant: one concrete type per training type.
type TrainingConfig interface {
	TrainingType() TrainingType
	ApplyTo(c *Collection)
}

// ChunkTrainingConfig configures plain chunk training.
type ChunkTrainingConfig struct {
	Trigger          ChunkTriggerType
	TriggerMinSize   int
	Split            SplitConfig
	AutoIndexes      bool
	AutoIndexesModel string
	AutoIndexesSize  int
}

// QATrainingConfig configures question/answer extraction training.
type QATrainingConfig struct {
	Split  SplitConfig
	Prompt string
}

// BackupTrainingConfig imports a previously exported CSV backup.
type BackupTrainingConfig struct{}

// TemplateTrainingConfig imports a filled-in CSV template.
type TemplateTrainingConfig struct{}

func (ChunkTrainingConfig) TrainingType() TrainingType    { return TrainingTypeChunk }
func (QATrainingConfig) TrainingType() TrainingType       { return TrainingTypeQA }
func (BackupTrainingConfig) TrainingType() TrainingType   { return TrainingTypeBackup }
func (TemplateTrainingConfig) TrainingType() TrainingType { return TrainingTypeTemplate }

// ApplyTo writes the chunk variant onto a collection.
func (c ChunkTrainingConfig) ApplyTo(col *Collection) {
	col.TrainingType = TrainingTypeChunk
	col.ChunkTriggerType = c.Trigger
	col.ChunkTriggerMinSize = c.TriggerMinSize
	c.Split.applyTo(col)
	col.AutoIndexes = c.AutoIndexes
	col.AutoIndexesModel = c.AutoIndexesModel
	col.AutoIndexesSize = c.AutoIndexesSize
}

// ApplyTo writes the qa variant onto a collection.
func (c QATrainingConfig) ApplyTo(col *Collection) {
	col.TrainingType = TrainingTypeQA
	c.Split.applyTo(col)
	col.QAPrompt = c.Prompt
}

// ApplyTo writes the backup variant onto a collection.
func (BackupTrainingConfig) ApplyTo(col *Collection) {
	col.TrainingType = TrainingTypeBackup
}

// ApplyTo writes the template variant onto a collection.
func (TemplateTrainingConfig) ApplyTo(col *Collection) {
	col.TrainingType = TrainingTypeTemplate
}

func (s SplitConfig) applyTo(col *Collection) {
	col.ChunkSize = s.ChunkSize
	col.IndexSize = s.IndexSize
	col.ParagraphChunkAIMode = s.ParagraphAIMode
	col.ParagraphChunkDeep = s.ParagraphDeep
	col.ParagraphChunkMin = s.ParagraphMinSize
	col.ChunkSplitter = s.Splitter
}

// NormalizeTrainingType maps the deprecated auto alias onto chunk training
// with auto indexes enabled. Empty types default to chunk.
func NormalizeTrainingType(s CollectionSettings) CollectionSettings {
	switch s.TrainingType {
	case TrainingTypeAuto:
		s.TrainingType = TrainingTypeChunk
		s.AutoIndexes = true
	case "":
		s.TrainingType = TrainingTypeChunk
	}
	return s
}

// NewTrainingConfig maps flat settings into the variant for their training type.
func NewTrainingConfig(s CollectionSettings) (TrainingConfig, error) {
	s = NormalizeTrainingType(s)
	split := SplitConfig{
		ChunkSize:        s.ChunkSize,
		IndexSize:        s.IndexSize,
		ParagraphAIMode:  s.ParagraphAIMode,
		ParagraphDeep:    s.ParagraphDeep,
		ParagraphMinSize: s.ParagraphMinSize,
		Splitter:         s.ChunkSplitter,
	}

	switch s.TrainingType {
	case TrainingTypeChunk:
		trigger := s.ChunkTriggerType
		if trigger == "" {
			trigger = ChunkTriggerMinSize
		}
		return ChunkTrainingConfig{
			Trigger:          trigger,
			TriggerMinSize:   s.ChunkTriggerMinSize,
			Split:            split,
			AutoIndexes:      s.AutoIndexes,
			AutoIndexesModel: s.AutoIndexesModel,
			AutoIndexesSize:  s.AutoIndexesSize,
		}, nil
	case TrainingTypeQA:
		return QATrainingConfig{Split: split, Prompt: s.QAPrompt}, nil
	case TrainingTypeBackup:
		return BackupTrainingConfig{}, nil
	case TrainingTypeTemplate:
		return TemplateTrainingConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrainingType, s.TrainingType)
	}
}
