// Package vectorstore provides one vector CRUD and recall contract over
// interchangeable engines, plus a cached per-team vector count.
package vectorstore

import (
	"context"
	"errors"
)

// ErrEmptyFilter is returned when a delete would not be scoped to any dataset,
// collection or id.
var ErrEmptyFilter = errors.New("vector delete filter selects nothing")

// InsertParams describes one vector to store.
type InsertParams struct {
	TeamID       string
	DatasetID    string
	CollectionID string
	Vector       []float32
}

// DeleteFilter scopes a delete to a team and at least one of ids,
// collections or datasets. When several are set the narrowest wins:
// IDs, then CollectionIDs, then DatasetIDs.
type DeleteFilter struct {
	TeamID        string
	DatasetIDs    []string
	CollectionIDs []string
	IDs           []string
}

func (f DeleteFilter) empty() bool {
	return len(f.IDs) == 0 && len(f.CollectionIDs) == 0 && len(f.DatasetIDs) == 0
}

// RecallParams describes a similarity query.
type RecallParams struct {
	TeamID              string
	DatasetIDs          []string
	Vector              []float32
	Limit               int
	ForbidCollectionIDs []string
	FilterCollectionIDs []string
}

// RecallResult is one recalled vector.
type RecallResult struct {
	ID           string  `json:"id"`
	CollectionID string  `json:"collection_id"`
	Score        float32 `json:"score"`
}

// Backend is implemented by every vector engine.
type Backend interface {
	Insert(ctx context.Context, p InsertParams) (string, error)
	Delete(ctx context.Context, f DeleteFilter) error
	Recall(ctx context.Context, p RecallParams) ([]RecallResult, error)
	CountByTeam(ctx context.Context, teamID string) (int64, error)
	CountByDataset(ctx context.Context, teamID, datasetID string) (int64, error)
	CountByCollection(ctx context.Context, teamID, collectionID string) (int64, error)
	Name() string
	Close() error
}

// Relabeler is implemented by backends that can move vectors between teams in bulk.
type Relabeler interface {
	RelabelTeam(ctx context.Context, oldTeamID, newTeamID string, datasetIDs []string) (int64, error)
}
