package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

type CodeJob struct {
	redemptionService *service.RedemptionService
	logger            *zap.Logger
}

func NewCodeJob(redemptionService *service.RedemptionService, logger *zap.Logger) *CodeJob {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CodeJob{
		redemptionService: redemptionService,
		logger:            logger,
	}
}

func (j *CodeJob) ExpireCodes() {
	if j == nil || j.redemptionService == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	expired, err := j.redemptionService.ExpireCodes(ctx)
	if err != nil {
		j.logger.Warn("code expiry sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		j.logger.Info("expired codes deactivated", zap.Int64("count", expired))
	}
}
