// Package worker drains the training task ledger: each Runner leases tasks of
// one mode, executes them and deletes, chains or fails them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/repository"
	"gorm.io/gorm"
)

const (
	defaultClaimBackoff = 500 * time.Millisecond
	defaultMaxAttempts  = 50
	defaultPollInterval = 2 * time.Second
)

// Handler executes one claimed task. On success the handler has already deleted
// or chained the task inside its own transaction.
type Handler interface {
	Mode() domain.TrainingMode
	Handle(ctx context.Context, task *domain.TrainingTask) error
}

// TaskLedger is the part of the training task store a Runner drives.
type TaskLedger interface {
	Claim(ctx context.Context, mode domain.TrainingMode, lease time.Duration) (*domain.TrainingTask, error)
	Delete(ctx context.Context, tx *gorm.DB, id string) error
	Fail(ctx context.Context, id string, errMsg string) error
	Freeze(ctx context.Context, id string, errMsg string) error
}

var _ TaskLedger = (*repository.TrainingRepository)(nil)

// RunnerConfig tunes one Runner.
type RunnerConfig struct {
	Lease        time.Duration
	ClaimBackoff time.Duration
	MaxAttempts  int
	PollInterval time.Duration
}

// Runner repeatedly claims and executes tasks of a single mode.
type Runner struct {
	tasks   TaskLedger
	handler Handler
	cfg     RunnerConfig
	sleep   func(ctx context.Context, d time.Duration)
}

// NewRunner creates a Runner for handler's mode.
func NewRunner(tasks TaskLedger, handler Handler, cfg RunnerConfig) *Runner {
	if cfg.ClaimBackoff <= 0 {
		cfg.ClaimBackoff = defaultClaimBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Runner{tasks: tasks, handler: handler, cfg: cfg, sleep: sleepCtx}
}

// Mode returns the training mode this runner claims.
func (r *Runner) Mode() domain.TrainingMode {
	return r.handler.Mode()
}

// Stats summarizes one RunOnce invocation.
type Stats struct {
	Processed int
	Failed    int
	Deleted   int
	Frozen    int
}

// RunOnce claims and executes tasks until the ledger has nothing claimable,
// an orphaned task is removed, or MaxAttempts claims have been made.
func (r *Runner) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	mode := r.handler.Mode()
	log := logger.FromContext(ctx).WithField(logger.FieldMode, string(mode))

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		task, err := r.tasks.Claim(ctx, mode, r.cfg.Lease)
		if err != nil {
			log.WithError(err).Warn("Failed to claim training task, backing off")
			r.sleep(ctx, r.cfg.ClaimBackoff)
			continue
		}
		if task == nil {
			return stats, nil
		}

		taskCtx := logger.SetTask(ctx, task.ID, string(task.Mode), task.TeamID, task.DatasetID, task.CollectionID)
		start := time.Now()
		err = r.handler.Handle(taskCtx, task)
		outcome := logger.With(nil).
			WithDuration(time.Since(start).Milliseconds()).
			WithRetries(task.RetryCount).
			WithLease(r.cfg.Lease)

		switch {
		case err == nil:
			stats.Processed++
			outcome.WithOutcome("done").Info(taskCtx, "Training task finished")
		case isOrphan(err):
			if derr := r.tasks.Delete(ctx, nil, task.ID); derr != nil {
				return stats, fmt.Errorf("failed to delete orphaned task %s: %w", task.ID, derr)
			}
			stats.Deleted++
			outcome.WithOutcome("orphaned").WithError(err).Warn(taskCtx, "Deleted training task with missing references")
			return stats, nil
		case errors.Is(err, domain.ErrTeamIndexLimit):
			if ferr := r.tasks.Freeze(ctx, task.ID, err.Error()); ferr != nil {
				return stats, fmt.Errorf("failed to freeze task %s: %w", task.ID, ferr)
			}
			stats.Frozen++
			outcome.WithOutcome("frozen").WithError(err).Warn(taskCtx, "Training task frozen by team vector quota")
		default:
			if ferr := r.tasks.Fail(ctx, task.ID, err.Error()); ferr != nil {
				return stats, fmt.Errorf("failed to record task error %s: %w", task.ID, ferr)
			}
			stats.Failed++
			outcome.WithOutcome("failed").WithError(err).Warn(taskCtx, "Training task failed")
		}
	}
	return stats, nil
}

// Run calls RunOnce until ctx is cancelled, waiting PollInterval whenever
// a pass found nothing to do.
func (r *Runner) Run(ctx context.Context) {
	log := logger.FromContext(ctx).WithField(logger.FieldMode, string(r.handler.Mode()))
	log.Info("Training runner started")
	for {
		stats, err := r.RunOnce(ctx)
		if ctx.Err() != nil {
			log.Info("Training runner stopped")
			return
		}
		if err != nil {
			log.WithError(err).Error("Training runner pass failed")
		}
		if stats.Processed+stats.Failed+stats.Frozen+stats.Deleted > 0 {
			continue
		}
		r.sleep(ctx, r.cfg.PollInterval)
	}
}

// isOrphan reports errors after which the task can never succeed.
func isOrphan(err error) bool {
	return errors.Is(err, domain.ErrDatasetNotFound) ||
		errors.Is(err, domain.ErrCollectionNotFound) ||
		errors.Is(err, domain.ErrDataNotFound) ||
		errors.Is(err, domain.ErrSourceMissing) ||
		errors.Is(err, domain.ErrUnsupportedSource) ||
		errors.Is(err, domain.ErrModelNotFound)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
