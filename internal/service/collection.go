package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/timmy/kbpipe/internal/chunker"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/enhance"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/storage"
	"github.com/timmy/kbpipe/internal/vectorstore"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	syncInterval = 24 * time.Hour

	defaultMaxCollections = 10000
	defaultMaxDepth       = 50
)

// CollectionDeps wires the collaborators of the collection orchestrator.
type CollectionDeps struct {
	DB        *gorm.DB
	Repos     *Repositories
	Vectors   *vectorstore.Store
	Storage   storage.ObjectStorage
	Reader    SourceReader
	Data      *DataService
	Usage     *UsageService
	Quota     *QuotaService
	Paragraph *ParagraphService
	Enhancer  *enhance.Generator
	Models    *ModelRegistry
	Chunk     config.ChunkConfig
	Dataset   config.DatasetConfig
	Delete    config.DeleteConfig
}

// CollectionService creates, processes and deletes collections.
type CollectionService struct {
	db         *gorm.DB
	repos      *Repositories
	vectors    *vectorstore.Store
	storage    storage.ObjectStorage
	reader     SourceReader
	data       *DataService
	usage      *UsageService
	quota      *QuotaService
	paragraph  *ParagraphService
	enhancer   *enhance.Generator
	models     *ModelRegistry
	chunkCfg   config.ChunkConfig
	datasetCfg config.DatasetConfig
	deleteCfg  config.DeleteConfig
}

// NewCollectionService creates a new CollectionService.
func NewCollectionService(d CollectionDeps) *CollectionService {
	if d.Dataset.MaxCollections <= 0 {
		d.Dataset.MaxCollections = defaultMaxCollections
	}
	if d.Dataset.MaxDepth <= 0 {
		d.Dataset.MaxDepth = defaultMaxDepth
	}
	if d.Delete.RetryAttempts <= 0 {
		d.Delete.RetryAttempts = 3
	}
	if d.Delete.RetryDelay <= 0 {
		d.Delete.RetryDelay = 500 * time.Millisecond
	}
	return &CollectionService{
		db:         d.DB,
		repos:      d.Repos,
		vectors:    d.Vectors,
		storage:    d.Storage,
		reader:     d.Reader,
		data:       d.Data,
		usage:      d.Usage,
		quota:      d.Quota,
		paragraph:  d.Paragraph,
		enhancer:   d.Enhancer,
		models:     d.Models,
		chunkCfg:   d.Chunk,
		datasetCfg: d.Dataset,
		deleteCfg:  d.Delete,
	}
}

// ImageInput is one uploaded image that becomes its own chunk.
type ImageInput struct {
	ID      string
	Caption string
}

// CreateParams describes a new collection and its initial content.
// RawText is split immediately; Images become one chunk each; a readable
// source without either is handed to the parse worker.
type CreateParams struct {
	TeamID    string
	DatasetID string
	ParentID  *string
	Name      string
	Type      domain.CollectionType

	FileID          string
	RawLink         string
	APIFileID       string
	ExternalFileID  string
	ExternalFileURL string
	Metadata        domain.CollectionMetadata

	Settings domain.CollectionSettings

	RawText string
	Images  []ImageInput

	// BillID reuses an existing bill instead of opening a new one.
	BillID string
}

// CreateResult reports what CreateAndInsert enqueued.
type CreateResult struct {
	CollectionID string `json:"collection_id"`
	BillID       string `json:"bill_id"`
	InsertLen    int    `json:"insert_len"`
	ParseQueued  bool   `json:"parse_queued"`
}

// CreateAndInsert creates a collection and enqueues its first training tasks.
// The collection, bill and tasks are written in one transaction, joining tx when non-nil.
func (s *CollectionService) CreateAndInsert(ctx context.Context, p CreateParams, tx *gorm.DB) (*CreateResult, error) {
	if p.TeamID == "" || p.DatasetID == "" || p.Name == "" || p.Type == "" {
		return nil, domain.ErrMissingParams
	}

	trainingCfg, err := domain.NewTrainingConfig(p.Settings)
	if err != nil {
		return nil, err
	}

	dataset, err := s.repos.Datasets.GetByID(ctx, tx, p.DatasetID)
	if err != nil {
		return nil, err
	}
	if dataset.TeamID != p.TeamID {
		return nil, domain.ErrDatasetNotFound
	}

	count, err := s.repos.Collections.CountByDataset(ctx, tx, dataset.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count collections: %w", err)
	}
	if count >= int64(s.datasetCfg.MaxCollections) {
		return nil, fmt.Errorf("%w: %d collections", domain.ErrCollectionLimit, count)
	}

	col := &domain.Collection{
		ID:              domain.NewID(),
		TeamID:          p.TeamID,
		DatasetID:       dataset.ID,
		ParentID:        p.ParentID,
		Name:            p.Name,
		Type:            p.Type,
		FileID:          p.FileID,
		RawLink:         p.RawLink,
		APIFileID:       p.APIFileID,
		ExternalFileID:  p.ExternalFileID,
		ExternalFileURL: p.ExternalFileURL,
	}
	col.Metadata = datatypes.NewJSONType(p.Metadata)
	trainingCfg.ApplyTo(col)
	s.ApplyChunkLimits(col, dataset)

	if p.RawText != "" {
		col.HashRawText = HashRawText(p.RawText)
		col.RawTextLength = utf8.RuneCountInString(p.RawText)
	}
	if (col.Type == domain.CollectionTypeLink || col.Type == domain.CollectionTypeAPIFile) &&
		!(dataset.Type == domain.DatasetTypeWebsite && !dataset.AutoSync) {
		next := time.Now().Add(syncInterval)
		col.NextSyncTime = &next
	}

	chunks, parse, err := s.initialChunks(col, dataset, p)
	if err != nil {
		return nil, err
	}

	if len(chunks) > 0 {
		predicted := PredictDataLimitLength(col.TrainingType, col.AutoIndexes, len(chunks))
		if err := s.quota.CheckTeamIndexLimit(ctx, p.TeamID, predicted); err != nil {
			return nil, err
		}
	}

	billID := p.BillID
	newBill := billID == ""
	if newBill {
		billID = domain.NewID()
	}

	var autoUsage Usage
	var autoModel string
	if col.AutoIndexes && len(chunks) > 0 {
		chunks, autoUsage, autoModel = s.AutoIndexChunks(ctx, chunks, s.autoIndexModel(col, dataset), col.AutoIndexesSize)
	}

	tasks := BuildChunkTasks(col, billID, chunks)
	if parse {
		tasks = []*domain.TrainingTask{{
			TeamID:           col.TeamID,
			DatasetID:        col.DatasetID,
			CollectionID:     col.ID,
			BillID:           billID,
			Mode:             domain.TrainingModeParse,
			AutoIndexes:      col.AutoIndexes,
			AutoIndexesModel: col.AutoIndexesModel,
			AutoIndexesSize:  col.AutoIndexesSize,
		}}
	}

	imageIDs := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		imageIDs = append(imageIDs, img.ID)
	}

	err = s.runInTx(ctx, tx, func(tx *gorm.DB) error {
		if err := s.repos.Collections.Create(ctx, tx, col); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		if newBill {
			if _, err := s.usage.CreateBill(ctx, tx, CreateBillParams{
				ID:          billID,
				TeamID:      col.TeamID,
				AppName:     col.Name,
				VectorModel: dataset.VectorModel,
				AgentModel:  dataset.AgentModel,
			}); err != nil {
				return err
			}
		}
		if err := s.repos.Training.Enqueue(ctx, tx, tasks); err != nil {
			return err
		}
		if err := s.repos.Images.AttachToCollection(ctx, tx, col.TeamID, col.ID, imageIDs); err != nil {
			return fmt.Errorf("failed to attach images: %w", err)
		}
		if err := s.repos.Images.ClearExpiryByRelatedID(ctx, tx, col.TeamID, p.Metadata.RelatedImgID); err != nil {
			return fmt.Errorf("failed to keep related images: %w", err)
		}
		return touchDatasetTree(ctx, s.repos.Datasets, dataset.ID, tx, s.datasetCfg.MaxDepth)
	})
	if err != nil {
		return nil, err
	}

	s.usage.PushUsage(ctx, UsagePush{
		BillID:       billID,
		TeamID:       col.TeamID,
		Model:        autoModel,
		Mode:         domain.UsageModeAutoIndex,
		InputTokens:  autoUsage.InputTokens,
		OutputTokens: autoUsage.OutputTokens,
	})

	insertLen := 0
	if !parse {
		insertLen = len(tasks)
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldCollectionID: col.ID,
		logger.FieldDatasetID:    col.DatasetID,
		logger.FieldBillID:       billID,
		logger.FieldCount:        insertLen,
		"parse_queued":           parse,
	}).Info("Collection created")

	return &CreateResult{
		CollectionID: col.ID,
		BillID:       billID,
		InsertLen:    insertLen,
		ParseQueued:  parse,
	}, nil
}

// initialChunks returns the chunks to enqueue right away, or parse=true when
// the source must be read by the parse worker first.
func (s *CollectionService) initialChunks(col *domain.Collection, ds *domain.Dataset, p CreateParams) ([]chunker.Chunk, bool, error) {
	if len(p.Images) > 0 {
		chunks := make([]chunker.Chunk, 0, len(p.Images))
		for _, img := range p.Images {
			q := strings.TrimSpace(img.Caption)
			if q == "" {
				q = col.Name
			}
			chunks = append(chunks, chunker.Chunk{Q: q, ImageIDs: []string{img.ID}})
		}
		return chunks, false, nil
	}

	if p.RawText != "" {
		chunks, err := chunker.Split(s.SplitOptions(col, ds, p.RawText))
		if err != nil {
			return nil, false, fmt.Errorf("failed to split raw text: %w", err)
		}
		return chunks, false, nil
	}

	if _, err := col.Source(); err != nil {
		if col.Type == domain.CollectionTypeFolder || col.Type == domain.CollectionTypeVirtual {
			return nil, false, nil
		}
		return nil, false, err
	}
	return nil, true, nil
}

// ApplyChunkLimits fills unset chunk settings from config and clamps them to the dataset's model limits.
func (s *CollectionService) ApplyChunkLimits(col *domain.Collection, ds *domain.Dataset) {
	maxIndex := s.models.EmbeddingMaxToken(ds.VectorModel)

	if col.TrainingType == domain.TrainingTypeChunk || col.TrainingType == domain.TrainingTypeQA {
		if col.ChunkSize <= 0 {
			col.ChunkSize = firstPositive(s.chunkCfg.DefaultSize, chunker.DefaultChunkSize)
		}
		if col.TrainingType == domain.TrainingTypeQA {
			col.ChunkSize = min(col.ChunkSize, s.models.LLMMaxChunkSize(ds.AgentModel))
		}
		if col.ChunkTriggerType == domain.ChunkTriggerMinSize && col.ChunkTriggerMinSize <= 0 {
			col.ChunkTriggerMinSize = firstPositive(s.chunkCfg.TriggerMinSize, chunker.DefaultTriggerMinSize)
		}
	}

	if col.IndexSize <= 0 {
		col.IndexSize = firstPositive(s.chunkCfg.IndexSize, maxIndex, col.ChunkSize, chunker.DefaultChunkSize)
	}
	if maxIndex > 0 {
		col.IndexSize = min(col.IndexSize, maxIndex)
	}

	if col.AutoIndexes && col.AutoIndexesSize <= 0 {
		col.AutoIndexesSize = firstPositive(s.chunkCfg.AutoIndexSize, enhance.DefaultSize)
	}
}

// SplitOptions builds the chunker options for a collection's raw text.
func (s *CollectionService) SplitOptions(col *domain.Collection, ds *domain.Dataset, rawText string) chunker.Options {
	opts := chunker.Options{
		RawText:          rawText,
		Filename:         col.Name,
		BackupParse:      col.TrainingType == domain.TrainingTypeBackup || col.TrainingType == domain.TrainingTypeTemplate,
		TriggerType:      col.ChunkTriggerType,
		TriggerMinSize:   col.ChunkTriggerMinSize,
		MaxSize:          s.models.LLMMaxChunkSize(ds.AgentModel),
		ChunkSize:        col.ChunkSize,
		OverlapRatio:     chunker.OverlapFor(col.TrainingType),
		ParagraphDeep:    col.ParagraphChunkDeep,
		ParagraphMinSize: col.ParagraphChunkMin,
	}
	if col.ChunkSplitter != "" {
		opts.CustomSeparators = []string{col.ChunkSplitter}
	}
	return opts
}

// ChunkRawText runs the paragraph pass, pushes its usage and splits the result.
func (s *CollectionService) ChunkRawText(ctx context.Context, col *domain.Collection, ds *domain.Dataset, billID, rawText string) ([]chunker.Chunk, error) {
	text := rawText
	if col.TrainingType == domain.TrainingTypeChunk || col.TrainingType == domain.TrainingTypeQA {
		model := ds.AgentModel
		restructured, usage, err := s.paragraph.Apply(ctx, rawText, col.ParagraphChunkAIMode, model)
		if err != nil {
			return nil, err
		}
		text = restructured
		s.usage.PushUsage(ctx, UsagePush{
			BillID:       billID,
			TeamID:       col.TeamID,
			Model:        model,
			Mode:         domain.UsageModeParagraph,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		})
	}

	chunks, err := chunker.Split(s.SplitOptions(col, ds, text))
	if err != nil {
		return nil, fmt.Errorf("failed to split raw text: %w", err)
	}
	return chunks, nil
}

// AutoIndexChunks appends generated question indexes to every chunk.
// It returns the updated chunks, the summed usage and the model used.
func (s *CollectionService) AutoIndexChunks(ctx context.Context, chunks []chunker.Chunk, model string, size int) ([]chunker.Chunk, Usage, string) {
	var usage Usage
	if s.enhancer == nil {
		return chunks, usage, model
	}
	if model == "" {
		model = s.enhancer.DefaultModel()
	}
	if size <= 0 {
		size = enhance.DefaultSize
	}

	out := make([]chunker.Chunk, len(chunks))
	for i, c := range chunks {
		text := c.Q
		if c.A != "" {
			text = c.Q + "\n" + c.A
		}
		res := s.enhancer.Generate(ctx, enhance.Request{
			Text:     text,
			Existing: c.Indexes,
			Model:    model,
			Size:     size,
		})
		c.Indexes = append(append([]string(nil), c.Indexes...), res.Indexes...)
		usage.InputTokens += res.InputTokens
		usage.OutputTokens += res.OutputTokens
		out[i] = c
	}
	return out, usage, model
}

func (s *CollectionService) autoIndexModel(col *domain.Collection, ds *domain.Dataset) string {
	if col.AutoIndexesModel != "" {
		return col.AutoIndexesModel
	}
	return ds.AgentModel
}

// BuildChunkTasks turns chunks into chunk-mode tasks numbered by position.
func BuildChunkTasks(col *domain.Collection, billID string, chunks []chunker.Chunk) []*domain.TrainingTask {
	tasks := make([]*domain.TrainingTask, 0, len(chunks))
	for i, c := range chunks {
		indexes := make([]domain.TaskIndex, 0, len(c.Indexes))
		for _, text := range c.Indexes {
			indexes = append(indexes, domain.TaskIndex{Type: domain.IndexTypeCustom, Text: text})
		}
		var imageID string
		if len(c.ImageIDs) > 0 {
			imageID = c.ImageIDs[0]
		}
		tasks = append(tasks, &domain.TrainingTask{
			TeamID:       col.TeamID,
			DatasetID:    col.DatasetID,
			CollectionID: col.ID,
			BillID:       billID,
			Mode:         domain.TrainingModeChunk,
			Q:            c.Q,
			A:            c.A,
			ImageID:      imageID,
			ChunkIndex:   i,
			Indexes:      indexes,
			IndexSize:    col.IndexSize,
		})
	}
	return tasks
}

// HashRawText returns the hex sha256 of raw text.
func HashRawText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *CollectionService) runInTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
