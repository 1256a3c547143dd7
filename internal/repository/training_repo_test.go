package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/repository"
	"github.com/timmy/kbpipe/internal/testutil"
)

func newTask(mode domain.TrainingMode) *domain.TrainingTask {
	return &domain.TrainingTask{
		TeamID:       "team-1",
		DatasetID:    "ds-1",
		CollectionID: "col-1",
		Mode:         mode,
	}
}

func TestTrainingRepository_EnqueueDefaults(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewTrainingRepository(db)
	ctx := context.Background()

	task := newTask(domain.TrainingModeChunk)
	require.NoError(t, repo.Enqueue(ctx, nil, []*domain.TrainingTask{task}))

	stored, err := repo.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultRetryCount, stored.RetryCount)
	assert.True(t, stored.LockTime.Equal(domain.InitialLockTime))
}

func TestTrainingRepository_ClaimDecrementsRetry(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewTrainingRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, nil, []*domain.TrainingTask{newTask(domain.TrainingModeParse)}))

	claimed, err := repo.Claim(ctx, domain.TrainingModeParse, 20*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, domain.DefaultRetryCount-1, claimed.RetryCount)

	stored, err := repo.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultRetryCount-1, stored.RetryCount)

	// Lease held: a second claim finds nothing.
	again, err := repo.Claim(ctx, domain.TrainingModeParse, 20*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestTrainingRepository_ClaimFiltersByMode(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewTrainingRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, nil, []*domain.TrainingTask{newTask(domain.TrainingModeChunk)}))

	claimed, err := repo.Claim(ctx, domain.TrainingModeIndexEnhance, 10*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestTrainingRepository_ClaimIsExclusive(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewTrainingRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, nil, []*domain.TrainingTask{newTask(domain.TrainingModeChunk)}))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := repo.Claim(ctx, domain.TrainingModeChunk, 10*time.Minute)
			assert.NoError(t, err)
			if task != nil {
				mu.Lock()
				winners = append(winners, task.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, winners, 1)
}

func TestTrainingRepository_ExhaustedRetriesNotClaimable(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewTrainingRepository(db)
	ctx := context.Background()

	task := newTask(domain.TrainingModeChunk)
	require.NoError(t, repo.Enqueue(ctx, nil, []*domain.TrainingTask{task}))
	require.NoError(t, db.Model(&domain.TrainingTask{}).Where("id = ?", task.ID).Update("retry_count", 0).Error)

	claimed, err := repo.Claim(ctx, domain.TrainingModeChunk, 0)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestTrainingRepository_FailAndFreeze(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewTrainingRepository(db)
	ctx := context.Background()

	failed := newTask(domain.TrainingModeChunk)
	frozen := newTask(domain.TrainingModeChunk)
	require.NoError(t, repo.Enqueue(ctx, nil, []*domain.TrainingTask{failed, frozen}))

	require.NoError(t, repo.Fail(ctx, failed.ID, "embedding timeout"))
	require.NoError(t, repo.Freeze(ctx, frozen.ID, "team vector index limit exceeded"))

	// The failed task is claimable right away, the frozen one never.
	claimed, err := repo.Claim(ctx, domain.TrainingModeChunk, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, failed.ID, claimed.ID)
	assert.Equal(t, "embedding timeout", claimed.ErrorMsg)

	again, err := repo.Claim(ctx, domain.TrainingModeChunk, 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, again)

	stats, err := repo.Stats(ctx, "team-1")
	require.NoError(t, err)
	for _, s := range stats {
		if s.Mode == domain.TrainingModeChunk {
			assert.Equal(t, int64(2), s.Pending)
			assert.Equal(t, int64(1), s.Failed, "frozen tasks are not counted as failed")
			assert.Equal(t, int64(1), s.Frozen)
		}
	}
}

func TestTrainingRepository_DeleteByCollections(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewTrainingRepository(db)
	ctx := context.Background()

	keep := newTask(domain.TrainingModeChunk)
	keep.CollectionID = "col-2"
	require.NoError(t, repo.Enqueue(ctx, nil, []*domain.TrainingTask{
		newTask(domain.TrainingModeChunk),
		newTask(domain.TrainingModeParse),
		keep,
	}))

	require.NoError(t, repo.DeleteByCollections(ctx, nil, "team-1", []string{"col-1"}))

	left, err := repo.ListByCollection(ctx, "col-1")
	require.NoError(t, err)
	assert.Empty(t, left)

	kept, err := repo.ListByCollection(ctx, "col-2")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestTrainingRepository_MoveTeam(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewTrainingRepository(db)
	ctx := context.Background()

	moved := newTask(domain.TrainingModeChunk)
	kept := newTask(domain.TrainingModeChunk)
	kept.DatasetID = "ds-2"
	require.NoError(t, repo.Enqueue(ctx, nil, []*domain.TrainingTask{moved, kept}))

	require.NoError(t, repo.MoveTeam(ctx, nil, []string{"ds-1"}, "team-2"))

	tests := []struct {
		id   string
		team string
	}{
		{id: moved.ID, team: "team-2"},
		{id: kept.ID, team: "team-1"},
	}
	for _, tt := range tests {
		got, err := repo.GetByID(ctx, tt.id)
		require.NoError(t, err)
		assert.Equal(t, tt.team, got.TeamID)
	}
}
