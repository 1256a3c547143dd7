package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryRecord struct {
	teamID       string
	datasetID    string
	collectionID string
	vector       []float32
}

// MemoryBackend keeps vectors in process. It is used by tests and single-node development.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]memoryRecord)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Close() error { return nil }

func (m *MemoryBackend) Insert(ctx context.Context, p InsertParams) (string, error) {
	id := uuid.New().String()
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)

	m.mu.Lock()
	m.records[id] = memoryRecord{
		teamID:       p.TeamID,
		datasetID:    p.DatasetID,
		collectionID: p.CollectionID,
		vector:       vec,
	}
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, f DeleteFilter) error {
	if f.empty() {
		return ErrEmptyFilter
	}
	ids := toSet(f.IDs)
	collections := toSet(f.CollectionIDs)
	datasets := toSet(f.DatasetIDs)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if rec.teamID != f.TeamID {
			continue
		}
		switch {
		case len(ids) > 0:
			if _, ok := ids[id]; !ok {
				continue
			}
		case len(collections) > 0:
			if _, ok := collections[rec.collectionID]; !ok {
				continue
			}
		default:
			if _, ok := datasets[rec.datasetID]; !ok {
				continue
			}
		}
		delete(m.records, id)
	}
	return nil
}

// RelabelTeam moves the vectors of datasetIDs from oldTeamID to newTeamID in place.
func (m *MemoryBackend) RelabelTeam(ctx context.Context, oldTeamID, newTeamID string, datasetIDs []string) (int64, error) {
	datasets := toSet(datasetIDs)

	m.mu.Lock()
	defer m.mu.Unlock()
	var migrated int64
	for id, rec := range m.records {
		if rec.teamID != oldTeamID {
			continue
		}
		if _, ok := datasets[rec.datasetID]; !ok {
			continue
		}
		rec.teamID = newTeamID
		m.records[id] = rec
		migrated++
	}
	return migrated, nil
}

func (m *MemoryBackend) Recall(ctx context.Context, p RecallParams) ([]RecallResult, error) {
	datasets := toSet(p.DatasetIDs)
	forbid := toSet(p.ForbidCollectionIDs)
	only := toSet(p.FilterCollectionIDs)

	m.mu.RLock()
	results := make([]RecallResult, 0)
	for id, rec := range m.records {
		if rec.teamID != p.TeamID {
			continue
		}
		if _, ok := datasets[rec.datasetID]; !ok {
			continue
		}
		if _, ok := forbid[rec.collectionID]; ok {
			continue
		}
		if len(only) > 0 {
			if _, ok := only[rec.collectionID]; !ok {
				continue
			}
		}
		results = append(results, RecallResult{
			ID:           id,
			CollectionID: rec.collectionID,
			Score:        cosine(p.Vector, rec.vector),
		})
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})
	if p.Limit > 0 && len(results) > p.Limit {
		results = results[:p.Limit]
	}
	return results, nil
}

func (m *MemoryBackend) CountByTeam(ctx context.Context, teamID string) (int64, error) {
	return m.count(func(r memoryRecord) bool { return r.teamID == teamID }), nil
}

func (m *MemoryBackend) CountByDataset(ctx context.Context, teamID, datasetID string) (int64, error) {
	return m.count(func(r memoryRecord) bool { return r.teamID == teamID && r.datasetID == datasetID }), nil
}

func (m *MemoryBackend) CountByCollection(ctx context.Context, teamID, collectionID string) (int64, error) {
	return m.count(func(r memoryRecord) bool { return r.teamID == teamID && r.collectionID == collectionID }), nil
}

func (m *MemoryBackend) count(match func(memoryRecord) bool) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, rec := range m.records {
		if match(rec) {
			n++
		}
	}
	return n
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
