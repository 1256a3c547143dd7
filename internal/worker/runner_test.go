package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/repository"
	"github.com/timmy/kbpipe/internal/testutil"
	"gorm.io/gorm"
)

type funcHandler struct {
	mode domain.TrainingMode
	fn   func(ctx context.Context, task *domain.TrainingTask) error
}

func (h funcHandler) Mode() domain.TrainingMode { return h.mode }

func (h funcHandler) Handle(ctx context.Context, task *domain.TrainingTask) error {
	return h.fn(ctx, task)
}

// flakyLedger fails the first claimErrs claims and then defers to the wrapped ledger.
type flakyLedger struct {
	TaskLedger
	mu        sync.Mutex
	claimErrs int
	claims    int
}

func (l *flakyLedger) Claim(ctx context.Context, mode domain.TrainingMode, lease time.Duration) (*domain.TrainingTask, error) {
	l.mu.Lock()
	l.claims++
	fail := l.claimErrs > 0
	if fail {
		l.claimErrs--
	}
	l.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return l.TaskLedger.Claim(ctx, mode, lease)
}

// endlessLedger always has another task to hand out.
type endlessLedger struct {
	claims  int
	failed  []string
	frozen  []string
	deleted []string
}

func (l *endlessLedger) Claim(ctx context.Context, mode domain.TrainingMode, lease time.Duration) (*domain.TrainingTask, error) {
	l.claims++
	return &domain.TrainingTask{
		ID:         fmt.Sprintf("task-%d", l.claims),
		TeamID:     "team-1",
		Mode:       mode,
		RetryCount: domain.DefaultRetryCount - 1,
	}, nil
}

func (l *endlessLedger) Delete(ctx context.Context, tx *gorm.DB, id string) error {
	l.deleted = append(l.deleted, id)
	return nil
}

func (l *endlessLedger) Fail(ctx context.Context, id string, errMsg string) error {
	l.failed = append(l.failed, id)
	return nil
}

func (l *endlessLedger) Freeze(ctx context.Context, id string, errMsg string) error {
	l.frozen = append(l.frozen, id)
	return nil
}

func newTestRunner(ledger TaskLedger, handler Handler, cfg RunnerConfig) (*Runner, *[]time.Duration) {
	var slept []time.Duration
	r := NewRunner(ledger, handler, cfg)
	r.sleep = func(_ context.Context, d time.Duration) { slept = append(slept, d) }
	return r, &slept
}

func TestRunner_FailedTaskDoesNotStopRun(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	tasks := repository.NewTrainingRepository(db)

	bad := &domain.TrainingTask{TeamID: "team-1", DatasetID: "ds-1", CollectionID: "col-1", Mode: domain.TrainingModeChunk, Q: "bad"}
	good := &domain.TrainingTask{TeamID: "team-1", DatasetID: "ds-1", CollectionID: "col-1", Mode: domain.TrainingModeChunk, Q: "good", ChunkIndex: 1}
	require.NoError(t, tasks.Enqueue(ctx, nil, []*domain.TrainingTask{bad, good}))

	var handled []string
	handler := funcHandler{mode: domain.TrainingModeChunk, fn: func(ctx context.Context, task *domain.TrainingTask) error {
		handled = append(handled, task.Q)
		if task.Q == "bad" {
			return errors.New("embedding provider timeout")
		}
		return tasks.Delete(ctx, nil, task.ID)
	}}

	r, slept := newTestRunner(tasks, handler, RunnerConfig{MaxAttempts: 20})
	stats, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Failed: domain.DefaultRetryCount}, stats)
	assert.Contains(t, handled, "good")
	assert.Empty(t, *slept)

	_, err = tasks.GetByID(ctx, good.ID)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	stored, err := tasks.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, "embedding provider timeout", stored.ErrorMsg)
	assert.Zero(t, stored.RetryCount)
}

func TestRunner_ClaimErrorBacksOffAndRetries(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	tasks := repository.NewTrainingRepository(db)
	require.NoError(t, tasks.Enqueue(ctx, nil, []*domain.TrainingTask{
		{TeamID: "team-1", DatasetID: "ds-1", CollectionID: "col-1", Mode: domain.TrainingModeChunk, Q: "a"},
	}))

	ledger := &flakyLedger{TaskLedger: tasks, claimErrs: 2}
	handler := funcHandler{mode: domain.TrainingModeChunk, fn: func(ctx context.Context, task *domain.TrainingTask) error {
		return tasks.Delete(ctx, nil, task.ID)
	}}

	r, slept := newTestRunner(ledger, handler, RunnerConfig{MaxAttempts: 10, ClaimBackoff: 250 * time.Millisecond})
	stats, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1}, stats)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, *slept)
	assert.Equal(t, 4, ledger.claims)
}

func TestRunner_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		err         error
		wantStats   Stats
		wantClaims  int
	}{
		{
			name:        "sustained failure stops at max attempts",
			maxAttempts: 3,
			err:         errors.New("llm unavailable"),
			wantStats:   Stats{Failed: 3},
			wantClaims:  3,
		},
		{
			name:        "orphan is deleted and ends the run",
			maxAttempts: 5,
			err:         fmt.Errorf("load collection: %w", domain.ErrCollectionNotFound),
			wantStats:   Stats{Deleted: 1},
			wantClaims:  1,
		},
		{
			name:        "quota freezes and keeps going",
			maxAttempts: 2,
			err:         domain.ErrTeamIndexLimit,
			wantStats:   Stats{Frozen: 2},
			wantClaims:  2,
		},
		{
			name:        "successes run until the bound",
			maxAttempts: 4,
			wantStats:   Stats{Processed: 4},
			wantClaims:  4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &endlessLedger{}
			handler := funcHandler{mode: domain.TrainingModeParse, fn: func(context.Context, *domain.TrainingTask) error {
				return tt.err
			}}

			r, _ := newTestRunner(ledger, handler, RunnerConfig{MaxAttempts: tt.maxAttempts})
			stats, err := r.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStats, stats)
			assert.Equal(t, tt.wantClaims, ledger.claims)
			assert.Len(t, ledger.failed, tt.wantStats.Failed)
			assert.Len(t, ledger.frozen, tt.wantStats.Frozen)
			assert.Len(t, ledger.deleted, tt.wantStats.Deleted)
		})
	}
}

func TestRunner_StopsOnCancelledContext(t *testing.T) {
	ledger := &endlessLedger{}
	handler := funcHandler{mode: domain.TrainingModeChunk, fn: func(context.Context, *domain.TrainingTask) error { return nil }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, _ := newTestRunner(ledger, handler, RunnerConfig{MaxAttempts: 5})
	_, err := r.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ledger.claims)
}
