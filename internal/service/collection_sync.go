package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"gorm.io/gorm"
)

// SyncResult reports what ProcessSync stored.
type SyncResult struct {
	Title     string `json:"title"`
	Chunks    int    `json:"chunks"`
	Inserted  int    `json:"inserted"`
	Skipped   int    `json:"skipped"`
	RawLength int    `json:"raw_text_length"`
}

// ProcessSync reads, chunks, embeds and persists a collection inline without the task ledger.
// A chunk that cannot be embedded is logged and skipped; metadata and data are written in one transaction.
func (s *CollectionService) ProcessSync(ctx context.Context, dataset *domain.Dataset, col *domain.Collection, billID string) (*SyncResult, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldCollectionID: col.ID,
		logger.FieldDatasetID:    dataset.ID,
		logger.FieldTeamID:       col.TeamID,
		logger.FieldMode:         "sync",
	})
	log := logger.FromContext(ctx)

	src, err := col.Source()
	if err != nil {
		return nil, err
	}
	raw, err := s.reader.Read(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection source: %w", err)
	}
	if strings.TrimSpace(raw.Text) == "" {
		return nil, domain.ErrEmptyRawText
	}

	if billID == "" {
		billID, err = s.usage.CreateBill(ctx, nil, CreateBillParams{
			TeamID:      col.TeamID,
			AppName:     col.Name,
			VectorModel: dataset.VectorModel,
			AgentModel:  dataset.AgentModel,
		})
		if err != nil {
			return nil, err
		}
	}

	chunks, err := s.ChunkRawText(ctx, col, dataset, billID, raw.Text)
	if err != nil {
		return nil, err
	}
	if col.AutoIndexes && len(chunks) > 0 {
		var usage Usage
		var model string
		chunks, usage, model = s.AutoIndexChunks(ctx, chunks, s.autoIndexModel(col, dataset), col.AutoIndexesSize)
		s.usage.PushUsage(ctx, UsagePush{
			BillID:       billID,
			TeamID:       col.TeamID,
			Model:        model,
			Mode:         domain.UsageModeAutoIndex,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		})
	}

	predicted := PredictDataLimitLength(col.TrainingType, col.AutoIndexes, len(chunks))
	if err := s.quota.CheckTeamIndexLimit(ctx, col.TeamID, predicted); err != nil {
		return nil, err
	}

	tasks := BuildChunkTasks(col, billID, chunks)
	prepared := make([]*PreparedData, 0, len(tasks))
	tokens := 0
	for _, t := range tasks {
		p, err := s.data.Prepare(ctx, ChunkInput{
			TeamID:       col.TeamID,
			DatasetID:    col.DatasetID,
			CollectionID: col.ID,
			ChunkIndex:   t.ChunkIndex,
			Q:            t.Q,
			A:            t.A,
			ImageID:      t.ImageID,
			Indexes:      t.Indexes,
			IndexSize:    t.IndexSize,
			Model:        dataset.VectorModel,
		})
		if err != nil {
			if errors.Is(err, ErrNoIndexEmbedded) {
				log.WithError(err).Warn("Skipping chunk that could not be embedded")
				continue
			}
			s.data.Discard(ctx, prepared...)
			return nil, err
		}
		prepared = append(prepared, p)
		tokens += p.Tokens
	}

	name := ""
	if col.Type == domain.CollectionTypeLink && raw.Title != "" {
		name = raw.Title
	}
	length := utf8.RuneCountInString(raw.Text)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repos.Collections.UpdateParseResult(ctx, tx, col.ID, name, HashRawText(raw.Text), length); err != nil {
			return fmt.Errorf("failed to update collection: %w", err)
		}
		for _, p := range prepared {
			if err := s.data.Persist(ctx, tx, p); err != nil {
				return err
			}
		}
		if err := s.repos.Images.ClearExpiryByRelatedID(ctx, tx, col.TeamID, col.Metadata.Data().RelatedImgID); err != nil {
			return fmt.Errorf("failed to keep related images: %w", err)
		}
		return touchDatasetTree(ctx, s.repos.Datasets, dataset.ID, tx, s.datasetCfg.MaxDepth)
	})
	if err != nil {
		s.data.Discard(ctx, prepared...)
		return nil, err
	}

	s.usage.PushUsage(ctx, UsagePush{
		BillID:      billID,
		TeamID:      col.TeamID,
		Model:       dataset.VectorModel,
		Mode:        domain.UsageModeEmbedding,
		InputTokens: tokens,
	})

	res := &SyncResult{
		Title:     raw.Title,
		Chunks:    len(tasks),
		Inserted:  len(prepared),
		Skipped:   len(tasks) - len(prepared),
		RawLength: length,
	}
	log.WithFields(logger.Fields{
		logger.FieldCount: res.Inserted,
		"skipped":         res.Skipped,
	}).Info("Collection processed synchronously")
	return res, nil
}

// SyncCollection loads a team's collection and its dataset and runs ProcessSync under a new bill.
func (s *CollectionService) SyncCollection(ctx context.Context, teamID, collectionID string) (*SyncResult, error) {
	col, err := s.repos.Collections.GetByID(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if col.TeamID != teamID {
		return nil, domain.ErrCollectionNotFound
	}
	ds, err := s.repos.Datasets.GetByID(ctx, nil, col.DatasetID)
	if err != nil {
		return nil, err
	}
	return s.ProcessSync(ctx, ds, col, "")
}
