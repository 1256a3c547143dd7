package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/repository"
)

const (
	defaultParseLease        = 20 * time.Minute
	defaultChunkLease        = 10 * time.Minute
	defaultIndexEnhanceLease = 10 * time.Minute
)

// RunnerConfigFor derives the runner settings of one mode from the training config.
func RunnerConfigFor(mode domain.TrainingMode, cfg config.TrainingConfig) RunnerConfig {
	rc := RunnerConfig{
		ClaimBackoff: cfg.ClaimBackoff,
		MaxAttempts:  cfg.MaxAttemptsPerRun,
		PollInterval: cfg.PollInterval,
	}
	switch mode {
	case domain.TrainingModeParse:
		rc.Lease = orDefault(cfg.ParseLease, defaultParseLease)
	case domain.TrainingModeChunk:
		rc.Lease = orDefault(cfg.ChunkLease, defaultChunkLease)
	case domain.TrainingModeIndexEnhance:
		rc.Lease = orDefault(cfg.IndexEnhanceLease, defaultIndexEnhanceLease)
	}
	return rc
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Pool runs several runners per mode on an ants goroutine pool.
type Pool struct {
	pool    *ants.Pool
	runners []*Runner
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewPool creates `workers` runners for each handler. workers below 1 means 1.
func NewPool(tasks *repository.TrainingRepository, cfg config.TrainingConfig, handlers ...Handler) (*Pool, error) {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	var runners []*Runner
	for _, h := range handlers {
		rc := RunnerConfigFor(h.Mode(), cfg)
		for i := 0; i < workers; i++ {
			runners = append(runners, NewRunner(tasks, h, rc))
		}
	}
	if len(runners) == 0 {
		return nil, fmt.Errorf("worker pool needs at least one handler")
	}

	p, err := ants.NewPool(len(runners))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Pool{pool: p, runners: runners}, nil
}

// Start launches every runner. Runners stop when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, r := range p.runners {
		p.wg.Add(1)
		if err := p.pool.Submit(func() {
			defer p.wg.Done()
			r.Run(ctx)
		}); err != nil {
			p.wg.Done()
			p.cancel()
			return fmt.Errorf("failed to start %s runner: %w", r.Mode(), err)
		}
	}
	logger.FromContext(ctx).WithField(logger.FieldCount, len(p.runners)).Info("Training workers started")
	return nil
}

// RunOnce drains every mode once, in handler order, and sums the stats.
func (p *Pool) RunOnce(ctx context.Context) (Stats, error) {
	var total Stats
	seen := make(map[domain.TrainingMode]bool)
	for _, r := range p.runners {
		if seen[r.Mode()] {
			continue
		}
		seen[r.Mode()] = true
		stats, err := r.RunOnce(ctx)
		total.Processed += stats.Processed
		total.Failed += stats.Failed
		total.Deleted += stats.Deleted
		total.Frozen += stats.Frozen
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Stop cancels the runners, waits for them to return and releases the pool.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.pool.Release()
}
