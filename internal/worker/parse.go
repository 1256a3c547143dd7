package worker

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/service"
	"gorm.io/gorm"
)

// ParseHandler reads a collection's source, chunks it and chains chunk tasks.
type ParseHandler struct {
	deps Deps
}

// NewParseHandler creates a new ParseHandler.
func NewParseHandler(deps Deps) *ParseHandler {
	return &ParseHandler{deps: deps}
}

// Mode implements Handler.
func (h *ParseHandler) Mode() domain.TrainingMode { return domain.TrainingModeParse }

// Handle implements Handler.
func (h *ParseHandler) Handle(ctx context.Context, task *domain.TrainingTask) error {
	col, err := h.deps.Repos.Collections.GetByID(ctx, task.CollectionID)
	if err != nil {
		return err
	}
	ds, err := h.deps.Repos.Datasets.GetByID(ctx, nil, task.DatasetID)
	if err != nil {
		return err
	}

	src, err := col.Source()
	if err != nil {
		return err
	}
	raw, err := h.deps.Reader.Read(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	if strings.TrimSpace(raw.Text) == "" {
		return domain.ErrEmptyRawText
	}

	chunks, err := h.deps.Collections.ChunkRawText(ctx, col, ds, task.BillID, raw.Text)
	if err != nil {
		return err
	}

	if task.AutoIndexes && len(chunks) > 0 {
		var usage service.Usage
		var model string
		chunks, usage, model = h.deps.Collections.AutoIndexChunks(ctx, chunks, task.AutoIndexesModel, task.AutoIndexesSize)
		h.deps.Usage.PushUsage(ctx, service.UsagePush{
			BillID:       task.BillID,
			TeamID:       task.TeamID,
			Model:        model,
			Mode:         domain.UsageModeAutoIndex,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		})
	}

	predicted := service.PredictDataLimitLength(col.TrainingType, task.AutoIndexes, len(chunks))
	if err := h.deps.Quota.CheckTeamIndexLimit(ctx, task.TeamID, predicted); err != nil {
		return err
	}

	name := ""
	if col.Type == domain.CollectionTypeLink && raw.Title != "" {
		name = raw.Title
	}
	chunkTasks := service.BuildChunkTasks(col, task.BillID, chunks)

	err = h.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := h.deps.Repos.Collections.UpdateParseResult(ctx, tx, col.ID, name,
			service.HashRawText(raw.Text), utf8.RuneCountInString(raw.Text)); err != nil {
			return fmt.Errorf("failed to update collection: %w", err)
		}
		if err := h.deps.Repos.Training.Enqueue(ctx, tx, chunkTasks); err != nil {
			return err
		}
		if err := h.deps.Repos.Training.Delete(ctx, tx, task.ID); err != nil {
			return fmt.Errorf("failed to delete parse task: %w", err)
		}
		return h.deps.Repos.Images.ClearExpiryByRelatedID(ctx, tx, col.TeamID, col.Metadata.Data().RelatedImgID)
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx).WithField(logger.FieldCount, len(chunkTasks)).Info("Parsed collection into chunk tasks")
	return nil
}
