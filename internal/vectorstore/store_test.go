package vectorstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertN(t *testing.T, s *Store, n int, team, dataset, collection string) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.Insert(context.Background(), InsertParams{
			TeamID:       team,
			DatasetID:    dataset,
			CollectionID: collection,
			Vector:       []float32{float32(i + 1), 1, 0},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestStore_Counts(t *testing.T) {
	s := New(NewMemoryBackend(), WithDebounceWindow(10*time.Millisecond))
	defer s.Close()
	ctx := context.Background()

	insertN(t, s, 3, "team-a", "ds-1", "col-1")
	insertN(t, s, 2, "team-a", "ds-1", "col-2")
	insertN(t, s, 1, "team-b", "ds-9", "col-9")

	n, err := s.CountByTeam(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.CountByDataset(ctx, "team-a", "ds-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.CountByCollection(ctx, "team-a", "col-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_InsertIncrementsOnlyCachedCount(t *testing.T) {
	cache := NewMemoryCountCache()
	s := New(NewMemoryBackend(), WithCountCache(cache, time.Minute))
	defer s.Close()
	ctx := context.Background()

	insertN(t, s, 2, "team-a", "ds-1", "col-1")
	_, ok, err := cache.Get(ctx, teamCountKey("team-a"))
	require.NoError(t, err)
	assert.False(t, ok, "insert must not create a partial count")

	n, err := s.CountByTeam(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	insertN(t, s, 1, "team-a", "ds-1", "col-1")
	cached, ok, err := cache.Get(ctx, teamCountKey("team-a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), cached)
}

func TestStore_DeleteInvalidatesCount(t *testing.T) {
	cache := NewMemoryCountCache()
	s := New(NewMemoryBackend(), WithCountCache(cache, time.Minute), WithDebounceWindow(20*time.Millisecond))
	defer s.Close()
	ctx := context.Background()

	insertN(t, s, 3, "team-a", "ds-1", "col-1")
	insertN(t, s, 2, "team-a", "ds-1", "col-2")
	_, err := s.CountByTeam(ctx, "team-a")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, DeleteFilter{TeamID: "team-a", CollectionIDs: []string{"col-1"}}))

	n, err := s.CountByTeam(ctx, "team-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_DeleteRequiresScope(t *testing.T) {
	s := New(NewMemoryBackend())
	defer s.Close()

	err := s.Delete(context.Background(), DeleteFilter{TeamID: "team-a"})
	assert.ErrorIs(t, err, ErrEmptyFilter)
}

func TestStore_DeleteByIDsAndDatasets(t *testing.T) {
	s := New(NewMemoryBackend())
	defer s.Close()
	ctx := context.Background()

	ids := insertN(t, s, 3, "team-a", "ds-1", "col-1")
	insertN(t, s, 2, "team-a", "ds-2", "col-2")

	require.NoError(t, s.Delete(ctx, DeleteFilter{TeamID: "team-a", IDs: ids[:1]}))
	n, err := s.CountByDataset(ctx, "team-a", "ds-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.Delete(ctx, DeleteFilter{TeamID: "team-a", DatasetIDs: []string{"ds-2"}}))
	n, err = s.CountByDataset(ctx, "team-a", "ds-2")
	require.NoError(t, err)
	assert.Zero(t, n)

	// Other teams are never touched.
	require.NoError(t, s.Delete(ctx, DeleteFilter{TeamID: "team-b", DatasetIDs: []string{"ds-1"}}))
	n, err = s.CountByDataset(ctx, "team-a", "ds-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_Recall(t *testing.T) {
	s := New(NewMemoryBackend())
	defer s.Close()
	ctx := context.Background()

	near, err := s.Insert(ctx, InsertParams{TeamID: "t", DatasetID: "ds", CollectionID: "c1", Vector: []float32{1, 0}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, InsertParams{TeamID: "t", DatasetID: "ds", CollectionID: "c2", Vector: []float32{0, 1}})
	require.NoError(t, err)
	_, err = s.Insert(ctx, InsertParams{TeamID: "other", DatasetID: "ds", CollectionID: "c1", Vector: []float32{1, 0}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		params  RecallParams
		wantLen int
		wantTop string
	}{
		{
			name:    "team scoped and ordered",
			params:  RecallParams{TeamID: "t", DatasetIDs: []string{"ds"}, Vector: []float32{1, 0.1}, Limit: 10},
			wantLen: 2,
			wantTop: near,
		},
		{
			name:    "forbidden collection",
			params:  RecallParams{TeamID: "t", DatasetIDs: []string{"ds"}, Vector: []float32{1, 0}, Limit: 10, ForbidCollectionIDs: []string{"c1"}},
			wantLen: 1,
		},
		{
			name:    "filtered collection",
			params:  RecallParams{TeamID: "t", DatasetIDs: []string{"ds"}, Vector: []float32{1, 0}, Limit: 10, FilterCollectionIDs: []string{"c1"}},
			wantLen: 1,
			wantTop: near,
		},
		{
			name:    "limit",
			params:  RecallParams{TeamID: "t", DatasetIDs: []string{"ds"}, Vector: []float32{1, 0}, Limit: 1},
			wantLen: 1,
			wantTop: near,
		},
		{
			name:    "no datasets",
			params:  RecallParams{TeamID: "t", Vector: []float32{1, 0}, Limit: 10},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.Recall(ctx, tt.params)
			require.NoError(t, err)
			assert.Len(t, results, tt.wantLen)
			if tt.wantTop != "" {
				assert.Equal(t, tt.wantTop, results[0].ID)
			}
		})
	}
}

type relabelBackend struct {
	*MemoryBackend
	calls int32
}

func (r *relabelBackend) RelabelTeam(ctx context.Context, oldTeamID, newTeamID string, datasetIDs []string) (int64, error) {
	atomic.AddInt32(&r.calls, 1)
	return 7, nil
}

func TestStore_RelabelTeam(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported backend reports zero", func(t *testing.T) {
		s := New(struct{ Backend }{NewMemoryBackend()})
		defer s.Close()
		n, err := s.RelabelTeam(ctx, "old", "new", []string{"ds"})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("memory backend moves matching vectors", func(t *testing.T) {
		s := New(NewMemoryBackend())
		defer s.Close()
		for _, p := range []InsertParams{
			{TeamID: "old", DatasetID: "ds", CollectionID: "c1", Vector: []float32{1, 0}},
			{TeamID: "old", DatasetID: "ds", CollectionID: "c2", Vector: []float32{0, 1}},
			{TeamID: "old", DatasetID: "keep", CollectionID: "c3", Vector: []float32{1, 1}},
		} {
			_, err := s.Insert(ctx, p)
			require.NoError(t, err)
		}

		n, err := s.RelabelTeam(ctx, "old", "new", []string{"ds"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		moved, err := s.CountByDataset(ctx, "new", "ds")
		require.NoError(t, err)
		assert.Equal(t, int64(2), moved)
		left, err := s.CountByTeam(ctx, "old")
		require.NoError(t, err)
		assert.Equal(t, int64(1), left)

		require.NoError(t, s.Delete(ctx, DeleteFilter{TeamID: "new", DatasetIDs: []string{"ds"}}))
		total, err := s.CountByDataset(ctx, "new", "ds")
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("supported backend drops both cached counts", func(t *testing.T) {
		cache := NewMemoryCountCache()
		backend := &relabelBackend{MemoryBackend: NewMemoryBackend()}
		s := New(backend, WithCountCache(cache, time.Minute))
		defer s.Close()

		require.NoError(t, cache.Set(ctx, teamCountKey("old"), 3, time.Minute))
		require.NoError(t, cache.Set(ctx, teamCountKey("new"), 4, time.Minute))

		n, err := s.RelabelTeam(ctx, "old", "new", []string{"ds"})
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
		assert.Equal(t, int32(1), atomic.LoadInt32(&backend.calls))

		_, ok, _ := cache.Get(ctx, teamCountKey("old"))
		assert.False(t, ok)
		_, ok, _ = cache.Get(ctx, teamCountKey("new"))
		assert.False(t, ok)
	})
}

func TestMemoryCountCache_Expiry(t *testing.T) {
	cache := NewMemoryCountCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", 10, time.Minute))
	v, ok, _ := cache.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, int64(10), v)

	now = now.Add(2 * time.Minute)
	_, ok, _ = cache.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, cache.IncrIfExists(ctx, "k", 1))
	_, ok, _ = cache.Get(ctx, "k")
	assert.False(t, ok)
}
