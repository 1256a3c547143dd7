package service

import (
	"context"
	"fmt"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/vectorstore"
)

// VectorCounter reports how many vectors a team holds.
type VectorCounter interface {
	CountByTeam(ctx context.Context, teamID string) (int64, error)
}

// QuotaService checks the per-team vector quota. The check is advisory:
// concurrent enqueues may overshoot the limit by a few items.
type QuotaService struct {
	counter    VectorCounter
	maxVectors int
}

var _ VectorCounter = (*vectorstore.Store)(nil)

// NewQuotaService creates a quota checker. maxVectors <= 0 disables the check.
func NewQuotaService(counter VectorCounter, maxVectors int) *QuotaService {
	return &QuotaService{counter: counter, maxVectors: maxVectors}
}

// CheckTeamIndexLimit returns ErrTeamIndexLimit when inserting insertLen more
// vectors would exceed the team quota.
func (s *QuotaService) CheckTeamIndexLimit(ctx context.Context, teamID string, insertLen int) error {
	if s.maxVectors <= 0 {
		return nil
	}
	used, err := s.counter.CountByTeam(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to count team vectors: %w", err)
	}
	if used+int64(insertLen) > int64(s.maxVectors) {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldTeamID: teamID,
			"used":             used,
			"insert":           insertLen,
			"limit":            s.maxVectors,
		}).Warn("Team vector quota exceeded")
		return fmt.Errorf("%w: %d used, %d requested, limit %d", domain.ErrTeamIndexLimit, used, insertLen, s.maxVectors)
	}
	return nil
}

// PredictDataLimitLength estimates how many vectors n chunks will produce:
// qa training x20, auto indexes x5, otherwise one each.
func PredictDataLimitLength(trainingType domain.TrainingType, autoIndexes bool, n int) int {
	switch {
	case trainingType == domain.TrainingTypeQA:
		return n * 20
	case autoIndexes:
		return n * 5
	default:
		return n
	}
}
