package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

// WindowJob prunes rate windows that ended long enough ago that no reading
// of them can still matter.
type WindowJob struct {
	keyService *service.APIKeyService
	logger     *zap.Logger
}

func NewWindowJob(keyService *service.APIKeyService, logger *zap.Logger) *WindowJob {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WindowJob{
		keyService: keyService,
		logger:     logger,
	}
}

func (j *WindowJob) PruneStale() {
	if j == nil || j.keyService == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pruned, err := j.keyService.PruneWindows(ctx)
	if err != nil {
		j.logger.Warn("rate window prune failed", zap.Error(err))
		return
	}
	if pruned > 0 {
		j.logger.Debug("rate windows pruned", zap.Int64("count", pruned))
	}
}
