package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/enhance"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/repository"
	"gorm.io/gorm"
)

// MaxEnhanceData caps how many data rows one enhancement request may queue.
const MaxEnhanceData = 100

// DatasetService manages dataset trees and dataset-wide operations.
type DatasetService struct {
	db          *gorm.DB
	repos       *Repositories
	collections *CollectionService
	usage       *UsageService
	models      *ModelRegistry
	maxDepth    int
	maxEnhance  int
}

// NewDatasetService creates a new DatasetService on top of the collection orchestrator.
func NewDatasetService(collections *CollectionService) *DatasetService {
	maxEnhance := collections.datasetCfg.MaxEnhanceData
	if maxEnhance <= 0 || maxEnhance > MaxEnhanceData {
		maxEnhance = MaxEnhanceData
	}
	return &DatasetService{
		db:          collections.db,
		repos:       collections.repos,
		collections: collections,
		usage:       collections.usage,
		models:      collections.models,
		maxDepth:    collections.datasetCfg.MaxDepth,
		maxEnhance:  maxEnhance,
	}
}

// FindDatasetAndAllChildren returns a dataset followed by all of its descendants.
// The walk is breadth-first with a visited set; ErrMaxDepthExceeded is returned
// when the tree is deeper than maxDepth levels below the root.
func (s *DatasetService) FindDatasetAndAllChildren(ctx context.Context, teamID, datasetID string, maxDepth int) ([]domain.Dataset, error) {
	if maxDepth <= 0 {
		maxDepth = s.maxDepth
	}

	root, err := s.repos.Datasets.GetByID(ctx, nil, datasetID)
	if err != nil {
		return nil, err
	}
	if root.TeamID != teamID {
		return nil, domain.ErrDatasetNotFound
	}

	result := []domain.Dataset{*root}
	visited := map[string]bool{root.ID: true}
	level := []string{root.ID}
	for depth := 0; len(level) > 0; depth++ {
		children, err := s.repos.Datasets.ListChildren(ctx, teamID, level)
		if err != nil {
			return nil, fmt.Errorf("failed to list child datasets: %w", err)
		}

		var next []string
		for _, child := range children {
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			result = append(result, child)
			next = append(next, child.ID)
		}
		if len(next) > 0 && depth+1 > maxDepth {
			return nil, fmt.Errorf("%w: below dataset %s", domain.ErrMaxDepthExceeded, datasetID)
		}
		level = next
	}
	return result, nil
}

// UpdateDatasetUpdateTime stamps a dataset and all of its ancestors with the current time,
// joining tx when non-nil.
func (s *DatasetService) UpdateDatasetUpdateTime(ctx context.Context, datasetID string, tx *gorm.DB, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = s.maxDepth
	}
	return touchDatasetTree(ctx, s.repos.Datasets, datasetID, tx, maxDepth)
}

// touchDatasetTree walks up the parent chain of a dataset, updating each node.
func touchDatasetTree(ctx context.Context, repo *repository.DatasetRepository, datasetID string, tx *gorm.DB, maxDepth int) error {
	now := time.Now()
	visited := make(map[string]bool)
	id := datasetID
	for depth := 0; id != ""; depth++ {
		if visited[id] {
			return fmt.Errorf("%w: dataset %s", domain.ErrCircularDataset, id)
		}
		if depth > maxDepth {
			return fmt.Errorf("%w: above dataset %s", domain.ErrMaxDepthExceeded, datasetID)
		}
		visited[id] = true

		ds, err := repo.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := repo.Touch(ctx, tx, id, now); err != nil {
			return fmt.Errorf("failed to update dataset time: %w", err)
		}

		id = ""
		if ds.ParentID != nil {
			id = *ds.ParentID
		}
	}
	return nil
}

// Delete removes a dataset, all of its descendants and everything stored under them.
func (s *DatasetService) Delete(ctx context.Context, teamID, datasetID string) error {
	datasets, err := s.FindDatasetAndAllChildren(ctx, teamID, datasetID, s.maxDepth)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(datasets))
	for _, d := range datasets {
		ids = append(ids, d.ID)
	}

	if err := s.collections.deleteDatasets(ctx, teamID, ids); err != nil {
		return err
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID: datasetID,
		logger.FieldTeamID:    teamID,
		logger.FieldCount:     len(ids),
	}).Info("Datasets deleted")
	return nil
}

// EnhanceRequest selects the data whose indexes should be enhanced.
// DataIDs wins over CollectionID; with neither the whole dataset is used.
type EnhanceRequest struct {
	TeamID       string   `json:"team_id"`
	DatasetID    string   `json:"dataset_id"`
	CollectionID string   `json:"collection_id,omitempty"`
	DataIDs      []string `json:"data_ids,omitempty"`
	Model        string   `json:"model,omitempty"`
	Size         int      `json:"size,omitempty"`
}

// EnhanceResult reports the queued enhancement work.
type EnhanceResult struct {
	BillID    string `json:"bill_id"`
	TaskCount int    `json:"task_count"`
}

// EnhanceCollectionIndexes queues one index enhancement task per data row of a collection.
func (s *DatasetService) EnhanceCollectionIndexes(ctx context.Context, teamID, collectionID, model string, size int) (*EnhanceResult, error) {
	col, err := s.repos.Collections.GetByID(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if col.TeamID != teamID {
		return nil, domain.ErrCollectionNotFound
	}
	return s.EnhanceDatasetIndexes(ctx, EnhanceRequest{
		TeamID:       teamID,
		DatasetID:    col.DatasetID,
		CollectionID: col.ID,
		Model:        model,
		Size:         size,
	})
}

// EnhanceDatasetIndexes queues one index enhancement task per selected data row, at most
// MaxEnhanceData rows, under a new bill.
func (s *DatasetService) EnhanceDatasetIndexes(ctx context.Context, req EnhanceRequest) (*EnhanceResult, error) {
	if req.DatasetID == "" {
		return nil, domain.ErrMissingParams
	}
	ds, err := s.repos.Datasets.GetByID(ctx, nil, req.DatasetID)
	if err != nil {
		return nil, err
	}
	if req.TeamID != "" && ds.TeamID != req.TeamID {
		return nil, domain.ErrDatasetNotFound
	}

	model := req.Model
	if model == "" {
		model = ds.AgentModel
	}
	llm, err := s.models.LLM(model)
	if err != nil {
		return nil, err
	}
	size := enhance.ClampSize(req.Size)

	rows, err := s.selectEnhanceData(ctx, ds.ID, req)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &EnhanceResult{}, nil
	}

	tasks := make([]*domain.TrainingTask, 0, len(rows))
	var billID string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		billID, err = s.usage.CreateBill(ctx, tx, CreateBillParams{
			TeamID:      ds.TeamID,
			AppName:     "index enhance: " + ds.Name,
			VectorModel: ds.VectorModel,
			AgentModel:  llm.Name,
		})
		if err != nil {
			return err
		}
		for _, row := range rows {
			tasks = append(tasks, &domain.TrainingTask{
				TeamID:           ds.TeamID,
				DatasetID:        ds.ID,
				CollectionID:     row.CollectionID,
				BillID:           billID,
				Mode:             domain.TrainingModeIndexEnhance,
				DataIDs:          domain.StringArray{row.ID},
				AutoIndexesModel: llm.Name,
				AutoIndexesSize:  size,
			})
		}
		return s.repos.Training.Enqueue(ctx, tx, tasks)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID: ds.ID,
		logger.FieldBillID:    billID,
		logger.FieldCount:     len(tasks),
	}).Info("Index enhancement queued")
	return &EnhanceResult{BillID: billID, TaskCount: len(tasks)}, nil
}

func (s *DatasetService) selectEnhanceData(ctx context.Context, datasetID string, req EnhanceRequest) ([]domain.DatasetData, error) {
	ids := req.DataIDs
	if len(ids) == 0 {
		var err error
		ids, err = s.repos.Data.ListIDs(ctx, datasetID, req.CollectionID, s.maxEnhance)
		if err != nil {
			return nil, fmt.Errorf("failed to list data: %w", err)
		}
	}
	if len(ids) > s.maxEnhance {
		ids = ids[:s.maxEnhance]
	}

	rows, err := s.repos.Data.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	out := rows[:0]
	for _, row := range rows {
		if row.DatasetID != datasetID {
			continue
		}
		if req.CollectionID != "" && row.CollectionID != req.CollectionID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// TransferTeam moves a dataset tree, its collections, data and vectors to another team.
func (s *DatasetService) TransferTeam(ctx context.Context, teamID, datasetID, newTeamID string) (int64, error) {
	if newTeamID == "" || newTeamID == teamID {
		return 0, domain.ErrMissingParams
	}
	datasets, err := s.FindDatasetAndAllChildren(ctx, teamID, datasetID, s.maxDepth)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(datasets))
	for _, d := range datasets {
		ids = append(ids, d.ID)
	}

	collections, err := s.repos.Collections.ListByDatasets(ctx, teamID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to list collections: %w", err)
	}
	collectionIDs := make([]string, 0, len(collections))
	for _, c := range collections {
		collectionIDs = append(collectionIDs, c.ID)
	}
	relatedIDs := relatedImageIDs(collections)

	migrated, err := s.collections.vectors.RelabelTeam(ctx, teamID, newTeamID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to relabel vectors: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repos.Datasets.MoveTeam(ctx, tx, ids, newTeamID); err != nil {
			return err
		}
		if err := s.repos.Collections.MoveTeam(ctx, tx, ids, newTeamID); err != nil {
			return err
		}
		if err := s.repos.Data.MoveTeam(ctx, tx, ids, newTeamID); err != nil {
			return err
		}
		if err := s.repos.Training.MoveTeam(ctx, tx, ids, newTeamID); err != nil {
			return err
		}
		return s.repos.Images.MoveTeam(ctx, tx, teamID, collectionIDs, relatedIDs, newTeamID)
	})
	if err != nil {
		if _, rerr := s.collections.vectors.RelabelTeam(ctx, newTeamID, teamID, ids); rerr != nil {
			logger.FromContext(ctx).WithError(rerr).Error("Failed to restore vector team after transfer failure")
		}
		return 0, fmt.Errorf("failed to move datasets: %w", err)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldDatasetID: datasetID,
		"from_team":           teamID,
		"to_team":             newTeamID,
		"vectors":             migrated,
	}).Info("Dataset tree transferred")
	return migrated, nil
}
