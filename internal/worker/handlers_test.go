package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/service"
	"github.com/timmy/kbpipe/internal/testutil"
)

func newBill(t *testing.T, h *harness, teamID string) string {
	t.Helper()
	id, err := h.deps.Usage.CreateBill(context.Background(), nil, service.CreateBillParams{TeamID: teamID, AppName: "test"})
	require.NoError(t, err)
	return id
}

func parseTask(col *domain.Collection, billID string) *domain.TrainingTask {
	return &domain.TrainingTask{
		TeamID:       col.TeamID,
		DatasetID:    col.DatasetID,
		CollectionID: col.ID,
		BillID:       billID,
		Mode:         domain.TrainingModeParse,
	}
}

func TestParseHandler_ChainsChunkTasks(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	ds := testutil.SeedDataset(t, h.db, "team-1")
	col := h.seedFileCollection(t, ds, "file-1", guideBody)
	h.enqueue(t, parseTask(col, newBill(t, h, "team-1")))

	stats, err := h.runner(NewParseHandler(h.deps)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1}, stats)

	tasks, err := h.repos.Training.ListByCollection(ctx, col.ID)
	require.NoError(t, err)
	require.Greater(t, len(tasks), 1)
	for _, task := range tasks {
		assert.Equal(t, domain.TrainingModeChunk, task.Mode)
		assert.NotEmpty(t, task.Q)
		assert.Equal(t, 40, task.IndexSize)
	}

	stored, err := h.repos.Collections.GetByID(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, service.HashRawText(guideBody), stored.HashRawText)
	assert.Equal(t, len([]rune(guideBody)), stored.RawTextLength)
}

func TestParseHandler_MissingFileDeletesTask(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	ds := testutil.SeedDataset(t, h.db, "team-1")
	col := h.seedFileCollection(t, ds, "", "")
	h.enqueue(t, parseTask(col, ""))

	stats, err := h.runner(NewParseHandler(h.deps)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Deleted: 1}, stats)

	tasks, err := h.repos.Training.ListByCollection(ctx, col.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestParseHandler_QuotaFreezesTask(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	ds := testutil.SeedDataset(t, h.db, "team-1")
	col := h.seedFileCollection(t, ds, "file-1", guideBody)
	task := parseTask(col, "")
	h.enqueue(t, task)

	stats, err := h.runner(NewParseHandler(h.deps)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Frozen: 1}, stats)

	stored, err := h.repos.Training.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2999, stored.LockTime.Year())
	assert.Contains(t, stored.ErrorMsg, domain.ErrTeamIndexLimit.Error())
}

func TestChunkHandler_StoresData(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	ds := testutil.SeedDataset(t, h.db, "team-1")
	col := h.seedFileCollection(t, ds, "file-1", guideBody)
	billID := newBill(t, h, "team-1")
	h.enqueue(t, parseTask(col, billID))

	_, err := h.runner(NewParseHandler(h.deps)).RunOnce(ctx)
	require.NoError(t, err)
	queued, err := h.repos.Training.ListByCollection(ctx, col.ID)
	require.NoError(t, err)

	stats, err := h.runner(NewChunkHandler(h.deps)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(queued), stats.Processed)

	data, err := h.repos.Data.ListByCollection(ctx, col.ID)
	require.NoError(t, err)
	require.Len(t, data, len(queued))
	indexes := 0
	for i, d := range data {
		assert.Equal(t, i, d.ChunkIndex)
		indexes += len(d.Indexes)
	}
	vectors, err := h.vectors.CountByCollection(ctx, "team-1", col.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(indexes), vectors)

	left, err := h.repos.Training.ListByCollection(ctx, col.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	usages, err := h.repos.Usage.ListByBill(ctx, billID)
	require.NoError(t, err)
	require.Len(t, usages, len(queued))
	for _, u := range usages {
		assert.Equal(t, domain.UsageModeEmbedding, u.Mode)
		assert.Positive(t, u.InputTokens)
	}
}

func TestChunkHandler_EmbeddingFailureRecordsError(t *testing.T) {
	h := newHarness(t, 0)
	h.embedder.failAll = true
	ctx := context.Background()
	ds := testutil.SeedDataset(t, h.db, "team-1")
	col := testutil.SeedCollection(t, h.db, ds, nil)
	task := &domain.TrainingTask{
		TeamID:       col.TeamID,
		DatasetID:    col.DatasetID,
		CollectionID: col.ID,
		Mode:         domain.TrainingModeChunk,
		Q:            "Leases expire after ten minutes.",
		IndexSize:    512,
	}
	h.enqueue(t, task)

	stats, err := h.runner(NewChunkHandler(h.deps)).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Failed: 1}, stats)

	stored, err := h.repos.Training.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ErrorMsg)
	assert.Equal(t, domain.DefaultRetryCount-1, stored.RetryCount)

	n, err := h.repos.Data.CountByCollection(ctx, col.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexEnhanceHandler(t *testing.T) {
	tests := []struct {
		name        string
		model       string
		missingData bool
		want        Stats
		wantAdded   int
	}{
		{name: "appends generated indexes", model: "test-llm", want: Stats{Processed: 1}, wantAdded: 2},
		{name: "unknown model deletes task", model: "gone", want: Stats{Deleted: 1}},
		{name: "empty model deletes task", model: "", want: Stats{Deleted: 1}},
		{name: "missing data deletes task", model: "test-llm", missingData: true, want: Stats{Deleted: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			ctx := context.Background()
			ds := testutil.SeedDataset(t, h.db, "team-1")
			col := testutil.SeedCollection(t, h.db, ds, nil)

			p, err := h.deps.Data.Prepare(ctx, service.ChunkInput{
				TeamID:       col.TeamID,
				DatasetID:    col.DatasetID,
				CollectionID: col.ID,
				Q:            "Leases expire after ten minutes.",
				IndexSize:    512,
				Model:        ds.VectorModel,
			})
			require.NoError(t, err)
			require.NoError(t, h.deps.Data.Persist(ctx, nil, p))
			before := len(p.Data.Indexes)

			dataID := p.Data.ID
			if tt.missingData {
				dataID = "missing"
			}
			billID := newBill(t, h, "team-1")
			task := &domain.TrainingTask{
				TeamID:           col.TeamID,
				DatasetID:        col.DatasetID,
				CollectionID:     col.ID,
				BillID:           billID,
				Mode:             domain.TrainingModeIndexEnhance,
				DataIDs:          domain.StringArray{dataID},
				AutoIndexesModel: tt.model,
				AutoIndexesSize:  3,
			}
			h.enqueue(t, task)

			stats, err := h.runner(NewIndexEnhanceHandler(h.deps, h.vectors)).RunOnce(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stats)

			_, err = h.repos.Training.GetByID(ctx, task.ID)
			assert.ErrorIs(t, err, domain.ErrTaskNotFound)

			data, err := h.repos.Data.GetByID(ctx, p.Data.ID)
			require.NoError(t, err)
			require.Len(t, data.Indexes, before+tt.wantAdded)
			if tt.wantAdded == 0 {
				return
			}
			assert.Equal(t, "How long is a lease?", data.Indexes[before].Text)
			assert.Equal(t, before, data.Indexes[before].Position)

			vectors, err := h.vectors.CountByCollection(ctx, "team-1", col.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(before+tt.wantAdded), vectors)

			usages, err := h.repos.Usage.ListByBill(ctx, billID)
			require.NoError(t, err)
			modes := map[domain.UsageMode]int{}
			for _, u := range usages {
				modes[u.Mode] += u.InputTokens
			}
			assert.Equal(t, 10, modes[domain.UsageModeIndexEnhance])
			assert.Positive(t, modes[domain.UsageModeEmbedding])
		})
	}
}
