package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/metrics"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/repository"
)

const usageWriteTimeout = 5 * time.Second

// UsageService writes the metering ledger. Record is best-effort durable:
// a failed write is logged and never fails the primary request.
type UsageService struct {
	usageRepo repository.UsageRepository
	logger    *zap.Logger
}

func NewUsageService(usageRepo repository.UsageRepository, logger *zap.Logger) *UsageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageService{
		usageRepo: usageRepo,
		logger:    logger,
	}
}

// Record writes one usage row. It uses its own deadline detached from the
// request context so a caller timeout cannot drop the billing row for a
// request the engine already served.
func (s *UsageService) Record(apiKeyID *uuid.UUID, endpoint, method string, statusCode int, latencyMs int64, billedUnits int) {
	if s.usageRepo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
	defer cancel()

	record := &model.UsageRecord{
		ID:          uuid.New(),
		APIKeyID:    apiKeyID,
		Endpoint:    endpoint,
		Method:      method,
		StatusCode:  statusCode,
		LatencyMs:   latencyMs,
		BilledUnits: billedUnits,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.usageRepo.Create(ctx, record); err != nil {
		s.logger.Error("write usage record failed",
			zap.String("endpoint", endpoint),
			zap.Int("status_code", statusCode),
			zap.Error(err),
		)
		return
	}

	metrics.AddBilledUnits(endpoint, billedUnits)
}

func (s *UsageService) Summary(ctx context.Context, apiKeyID uuid.UUID, from, to time.Time) (*model.UsageSummary, error) {
	if s.usageRepo == nil {
		return nil, errors.New("usage repository is nil")
	}
	if apiKeyID == uuid.Nil {
		return nil, ErrInvalidKeyInput
	}
	if !to.After(from) {
		return nil, ErrInvalidKeyInput
	}
	return s.usageRepo.Summary(ctx, apiKeyID, from, to)
}
