package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/enhance"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/service"
	"github.com/timmy/kbpipe/internal/vectorstore"
	"gorm.io/gorm"
)

// IndexEnhanceHandler generates extra question indexes for existing data.
type IndexEnhanceHandler struct {
	deps    Deps
	vectors *vectorstore.Store
}

// NewIndexEnhanceHandler creates a new IndexEnhanceHandler. vectors is used to
// remove new index vectors when the final transaction fails.
func NewIndexEnhanceHandler(deps Deps, vectors *vectorstore.Store) *IndexEnhanceHandler {
	return &IndexEnhanceHandler{deps: deps, vectors: vectors}
}

// Mode implements Handler.
func (h *IndexEnhanceHandler) Mode() domain.TrainingMode { return domain.TrainingModeIndexEnhance }

type enhancedData struct {
	dataID  string
	indexes []domain.DatasetDataIndex
}

// Handle implements Handler.
func (h *IndexEnhanceHandler) Handle(ctx context.Context, task *domain.TrainingTask) error {
	if task.AutoIndexesModel == "" {
		return fmt.Errorf("index enhance task has no model: %w", domain.ErrModelNotFound)
	}
	if _, err := h.deps.Models.LLM(task.AutoIndexesModel); err != nil {
		return err
	}
	ds, err := h.deps.Repos.Datasets.GetByID(ctx, nil, task.DatasetID)
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	var (
		results   []enhancedData
		llmUsage  service.Usage
		embTokens int
		found     int
	)
	for _, dataID := range task.DataIDs {
		data, err := h.deps.Repos.Data.GetByID(ctx, dataID)
		if errors.Is(err, domain.ErrDataNotFound) {
			log.WithField("data_id", dataID).Warn("Data removed before index enhancement, skipping")
			continue
		}
		if err != nil {
			return err
		}
		found++

		text := data.Q
		if data.A != "" {
			text = data.Q + "\n" + data.A
		}
		res := h.deps.Enhancer.Generate(ctx, enhance.Request{
			Text:     text,
			Existing: data.IndexTexts(),
			Model:    task.AutoIndexesModel,
			Size:     task.AutoIndexesSize,
		})
		llmUsage.InputTokens += res.InputTokens
		llmUsage.OutputTokens += res.OutputTokens

		indexes, tokens := h.deps.Data.EmbedIndexes(ctx, data, res.Indexes, ds.VectorModel)
		embTokens += tokens
		results = append(results, enhancedData{dataID: data.ID, indexes: indexes})
	}
	if found == 0 && len(task.DataIDs) > 0 {
		return domain.ErrDataNotFound
	}

	h.deps.Usage.PushUsage(ctx, service.UsagePush{
		BillID:       task.BillID,
		TeamID:       task.TeamID,
		Model:        task.AutoIndexesModel,
		Mode:         domain.UsageModeIndexEnhance,
		InputTokens:  llmUsage.InputTokens,
		OutputTokens: llmUsage.OutputTokens,
	})
	h.deps.Usage.PushUsage(ctx, service.UsagePush{
		BillID:      task.BillID,
		TeamID:      task.TeamID,
		Model:       ds.VectorModel,
		Mode:        domain.UsageModeEmbedding,
		InputTokens: embTokens,
	})

	err = h.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range results {
			if err := h.deps.Repos.Data.AppendIndexes(ctx, tx, r.dataID, r.indexes); err != nil {
				return fmt.Errorf("failed to append indexes: %w", err)
			}
		}
		return h.deps.Repos.Training.Delete(ctx, tx, task.ID)
	})
	if err != nil {
		h.discard(ctx, task.TeamID, results)
		return err
	}

	added := 0
	for _, r := range results {
		added += len(r.indexes)
	}
	log.WithField(logger.FieldCount, added).Info("Index enhancement stored")
	return nil
}

func (h *IndexEnhanceHandler) discard(ctx context.Context, teamID string, results []enhancedData) {
	var ids []string
	for _, r := range results {
		for _, idx := range r.indexes {
			ids = append(ids, idx.VectorID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := h.vectors.Delete(ctx, vectorstore.DeleteFilter{TeamID: teamID, IDs: ids}); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Failed to discard enhanced index vectors")
	}
}
