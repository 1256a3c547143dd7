package worker

import (
	"context"
	"fmt"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/service"
	"gorm.io/gorm"
)

// ChunkHandler embeds one chunk task and stores it as dataset data.
type ChunkHandler struct {
	deps Deps
}

// NewChunkHandler creates a new ChunkHandler.
func NewChunkHandler(deps Deps) *ChunkHandler {
	return &ChunkHandler{deps: deps}
}

// Mode implements Handler.
func (h *ChunkHandler) Mode() domain.TrainingMode { return domain.TrainingModeChunk }

// Handle implements Handler. Vectors inserted for a chunk whose final
// transaction fails are removed again.
func (h *ChunkHandler) Handle(ctx context.Context, task *domain.TrainingTask) error {
	ds, err := h.deps.Repos.Datasets.GetByID(ctx, nil, task.DatasetID)
	if err != nil {
		return err
	}
	if _, err := h.deps.Repos.Collections.GetByID(ctx, task.CollectionID); err != nil {
		return err
	}

	prepared, err := h.deps.Data.Prepare(ctx, service.ChunkInput{
		TeamID:       task.TeamID,
		DatasetID:    task.DatasetID,
		CollectionID: task.CollectionID,
		ChunkIndex:   task.ChunkIndex,
		Q:            task.Q,
		A:            task.A,
		ImageID:      task.ImageID,
		Indexes:      task.Indexes,
		IndexSize:    task.IndexSize,
		Model:        ds.VectorModel,
	})
	if err != nil {
		return err
	}

	err = h.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := h.deps.Data.Persist(ctx, tx, prepared); err != nil {
			return err
		}
		if err := h.deps.Repos.Training.Delete(ctx, tx, task.ID); err != nil {
			return fmt.Errorf("failed to delete chunk task: %w", err)
		}
		return nil
	})
	if err != nil {
		h.deps.Data.Discard(ctx, prepared)
		return err
	}

	h.deps.Usage.PushUsage(ctx, service.UsagePush{
		BillID:      task.BillID,
		TeamID:      task.TeamID,
		Model:       ds.VectorModel,
		Mode:        domain.UsageModeEmbedding,
		InputTokens: prepared.Tokens,
	})
	return nil
}
