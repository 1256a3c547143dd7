package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/kbpipe/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// claimCandidates bounds how many lost races a single Claim call tolerates
// before reporting that nothing is claimable.
const claimCandidates = 3

// TrainingRepository is the persisted ledger of pipeline work.
type TrainingRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTrainingRepository creates a new TrainingRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *TrainingRepository: repository instance bound to db.
func NewTrainingRepository(db *gorm.DB) *TrainingRepository {
	return &TrainingRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *TrainingRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Enqueue bulk inserts tasks, joining tx when non-nil.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - tx: optional transaction to join.
//   - tasks: tasks to persist; ids and lease defaults are filled on create.
// Returns:
//   - error: non-nil if the insert fails.
func (r *TrainingRepository) Enqueue(ctx context.Context, tx *gorm.DB, tasks []*domain.TrainingTask) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := r.conn(tx).WithContext(ctx).CreateInBatches(tasks, 200).Error; err != nil {
		return fmt.Errorf("failed to enqueue training tasks: %w", err)
	}
	return nil
}

// Claim leases one task of the given mode whose lease window has elapsed.
// The lease is taken with a single conditional update so two workers can
// never hold the same task; the loser of a race moves on to another candidate.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - mode: training mode the caller can process.
//   - lease: lease window for this mode.
// Returns:
//   - *domain.TrainingTask: the claimed task, or nil when nothing is claimable.
//   - error: non-nil on store failures.
func (r *TrainingRepository) Claim(ctx context.Context, mode domain.TrainingMode, lease time.Duration) (*domain.TrainingTask, error) {
	for i := 0; i < claimCandidates; i++ {
		now := r.now()
		cutoff := now.Add(-lease)

		var (
			task *domain.TrainingTask
			won  bool
		)
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			task, err = r.nextCandidate(tx, mode, cutoff)
			if err != nil || task == nil {
				return err
			}
			won, err = r.acquire(tx, task.ID, mode, cutoff, now)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to claim %s task: %w", mode, err)
		}
		if task == nil {
			return nil, nil
		}
		if won {
			task.LockTime = now
			task.RetryCount--
			return task, nil
		}
	}
	return nil, nil
}

func (r *TrainingRepository) nextCandidate(tx *gorm.DB, mode domain.TrainingMode, cutoff time.Time) (*domain.TrainingTask, error) {
	query := tx.Where("mode = ? AND retry_count > 0 AND lock_time <= ?", mode, cutoff).
		Order("lock_time ASC").Order("created_at ASC")
	if IsPostgres(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var task domain.TrainingTask
	if err := query.First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *TrainingRepository) acquire(tx *gorm.DB, id string, mode domain.TrainingMode, cutoff, now time.Time) (bool, error) {
	result := tx.Model(&domain.TrainingTask{}).
		Where("id = ? AND mode = ? AND retry_count > 0 AND lock_time <= ?", id, mode, cutoff).
		Updates(map[string]interface{}{
			"lock_time":   now,
			"retry_count": gorm.Expr("retry_count - 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// GetByID retrieves a task by its ID.
// Returns domain.ErrTaskNotFound when the task does not exist.
func (r *TrainingRepository) GetByID(ctx context.Context, id string) (*domain.TrainingTask, error) {
	var task domain.TrainingTask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Delete removes a task, joining tx when non-nil.
func (r *TrainingRepository) Delete(ctx context.Context, tx *gorm.DB, id string) error {
	return r.conn(tx).WithContext(ctx).Delete(&domain.TrainingTask{}, "id = ?", id).Error
}

// Fail records an error and moves the lease so the task is claimable again
// as soon as retries allow.
func (r *TrainingRepository) Fail(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&domain.TrainingTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"error_msg": errMsg,
			"lock_time": r.now().Add(-time.Minute),
		}).Error
}

// Freeze records an error and parks the task until an operator intervenes.
func (r *TrainingRepository) Freeze(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&domain.TrainingTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"error_msg": errMsg,
			"lock_time": domain.FrozenLockTime,
		}).Error
}

// DeleteByCollections removes every task that references the given collections.
func (r *TrainingRepository) DeleteByCollections(ctx context.Context, tx *gorm.DB, teamID string, collectionIDs []string) error {
	if len(collectionIDs) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).
		Where("team_id = ? AND collection_id IN ?", teamID, collectionIDs).
		Delete(&domain.TrainingTask{}).Error
}

// DeleteByDatasets removes every task that references the given datasets.
func (r *TrainingRepository) DeleteByDatasets(ctx context.Context, teamID string, datasetIDs []string) error {
	if len(datasetIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("team_id = ? AND dataset_id IN ?", teamID, datasetIDs).
		Delete(&domain.TrainingTask{}).Error
}

// MoveTeam reassigns the queued tasks of the given datasets to another team.
func (r *TrainingRepository) MoveTeam(ctx context.Context, tx *gorm.DB, datasetIDs []string, teamID string) error {
	if len(datasetIDs) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Model(&domain.TrainingTask{}).
		Where("dataset_id IN ?", datasetIDs).
		Update("team_id", teamID).Error
}

// ListByCollection returns the tasks of one collection in chunk order.
func (r *TrainingRepository) ListByCollection(ctx context.Context, collectionID string) ([]domain.TrainingTask, error) {
	var tasks []domain.TrainingTask
	err := r.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("chunk_index ASC").
		Find(&tasks).Error
	return tasks, err
}

// ModeStats summarizes the ledger for one training mode.
type ModeStats struct {
	Mode    domain.TrainingMode `json:"mode"`
	Pending int64               `json:"pending"`
	Failed  int64               `json:"failed"`
	Frozen  int64               `json:"frozen"`
}

// Stats returns per-mode counts of queued, failed and frozen tasks for a team.
// An empty teamID covers every team.
func (r *TrainingRepository) Stats(ctx context.Context, teamID string) ([]ModeStats, error) {
	modes := []domain.TrainingMode{domain.TrainingModeParse, domain.TrainingModeChunk, domain.TrainingModeIndexEnhance}
	stats := make([]ModeStats, 0, len(modes))

	for _, mode := range modes {
		s := ModeStats{Mode: mode}
		base := func() *gorm.DB {
			q := r.db.WithContext(ctx).Model(&domain.TrainingTask{}).Where("mode = ?", mode)
			if teamID != "" {
				q = q.Where("team_id = ?", teamID)
			}
			return q
		}
		if err := base().Count(&s.Pending).Error; err != nil {
			return nil, err
		}
		if err := base().Where("error_msg <> '' AND lock_time < ?", domain.FrozenLockTime).Count(&s.Failed).Error; err != nil {
			return nil, err
		}
		if err := base().Where("lock_time >= ?", domain.FrozenLockTime).Count(&s.Frozen).Error; err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}
