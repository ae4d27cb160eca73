package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	specWindowPrune  = "0 */5 * * * *"
	specCodeExpiry   = "0 0 * * * *"
	specGaugeRefresh = "*/30 * * * * *"
)

type WindowTask interface {
	PruneStale()
}

type CodeTask interface {
	ExpireCodes()
}

type GaugeTask interface {
	Refresh()
}

type Deps struct {
	WindowJob WindowTask
	CodeJob   CodeTask
	GaugeJob  GaugeTask
}

func NewScheduler(deps Deps, logger *zap.Logger) *cron.Cron {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))

	if deps.WindowJob != nil {
		addFunc(c, specWindowPrune, "ratelimit.prune_windows", logger, deps.WindowJob.PruneStale)
	}
	if deps.CodeJob != nil {
		addFunc(c, specCodeExpiry, "codes.expire", logger, deps.CodeJob.ExpireCodes)
	}
	if deps.GaugeJob != nil {
		addFunc(c, specGaugeRefresh, "metrics.refresh_gauges", logger, deps.GaugeJob.Refresh)
	}

	return c
}

func addFunc(c *cron.Cron, spec string, name string, logger *zap.Logger, fn func()) {
	if c == nil || fn == nil {
		return
	}

	if _, err := c.AddFunc(spec, func() {
		defer recoverJobPanic(name, logger)
		start := time.Now()
		fn()
		logger.Debug("scheduler job finished", zap.String("job", name), zap.Duration("cost", time.Since(start)))
	}); err != nil {
		logger.Error("register scheduler job failed",
			zap.String("job", name),
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}

func recoverJobPanic(jobName string, logger *zap.Logger) {
	if logger == nil {
		return
	}

	if recovered := recover(); recovered != nil {
		logger.Error("scheduler job panic recovered",
			zap.String("job", jobName),
			zap.Any("panic", recovered),
		)
	}
}
