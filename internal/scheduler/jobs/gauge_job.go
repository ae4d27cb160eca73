package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/metrics"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

// GaugeJob refreshes the gauges that cannot be maintained incrementally.
type GaugeJob struct {
	redemptionService *service.RedemptionService
	keyService        *service.APIKeyService
	logger            *zap.Logger
}

func NewGaugeJob(redemptionService *service.RedemptionService, keyService *service.APIKeyService, logger *zap.Logger) *GaugeJob {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GaugeJob{
		redemptionService: redemptionService,
		keyService:        keyService,
		logger:            logger,
	}
}

func (j *GaugeJob) Refresh() {
	if j == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if j.redemptionService != nil {
		if active, err := j.redemptionService.ActiveCodeCount(ctx); err != nil {
			j.logger.Warn("active code gauge refresh failed", zap.Error(err))
		} else {
			metrics.SetActiveCodes(active)
		}
	}

	if j.keyService != nil {
		if open, err := j.keyService.OpenWindowCount(ctx); err != nil {
			j.logger.Warn("open window gauge refresh failed", zap.Error(err))
		} else {
			metrics.SetOpenRateWindows(open)
		}
	}
}
