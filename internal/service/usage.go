package service

import (
	"context"
	"fmt"

	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/logger"
	"github.com/timmy/kbpipe/internal/repository"
	"gorm.io/gorm"
)

// CreateBillParams describes the training run a bill pays for.
// A non-empty ID is used as the bill id.
type CreateBillParams struct {
	ID          string
	TeamID      string
	AppName     string
	VectorModel string
	AgentModel  string
}

// UsagePush is one usage entry against a bill.
type UsagePush struct {
	BillID       string
	TeamID       string
	Model        string
	Mode         domain.UsageMode
	InputTokens  int
	OutputTokens int
}

// UsageService records training usage.
type UsageService struct {
	repo *repository.UsageRepository
}

// NewUsageService creates a new UsageService.
func NewUsageService(repo *repository.UsageRepository) *UsageService {
	return &UsageService{repo: repo}
}

// CreateBill opens a bill, joining tx when non-nil, and returns its id.
func (s *UsageService) CreateBill(ctx context.Context, tx *gorm.DB, p CreateBillParams) (string, error) {
	bill := &domain.TrainingBill{
		ID:          p.ID,
		TeamID:      p.TeamID,
		AppName:     p.AppName,
		VectorModel: p.VectorModel,
		AgentModel:  p.AgentModel,
	}
	if err := s.repo.CreateBill(ctx, tx, bill); err != nil {
		return "", fmt.Errorf("failed to create bill: %w", err)
	}
	return bill.ID, nil
}

// PushUsage records usage. Failures are logged and never returned to the pipeline.
// Pushes without any tokens are dropped.
func (s *UsageService) PushUsage(ctx context.Context, u UsagePush) {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return
	}
	err := s.repo.AddRecord(ctx, &domain.UsageRecord{
		BillID:       u.BillID,
		TeamID:       u.TeamID,
		Model:        u.Model,
		Mode:         u.Mode,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithFields(logger.Fields{
			logger.FieldBillID: u.BillID,
			logger.FieldTeamID: u.TeamID,
			"usage_mode":       u.Mode,
		}).Warn("Failed to push training usage")
	}
}
