package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/metrics"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

const billedUnitsContextKey = "billed_units"

// SetBilledUnits lets a handler override the billed unit count for the
// current request (chain attribution bills per participant).
func SetBilledUnits(c *gin.Context, units int) {
	if units < 0 {
		units = 0
	}
	c.Set(billedUnitsContextKey, units)
}

// Usage writes exactly one usage ledger row per inbound request, success
// or failure, after the handler chain completes. The write is best-effort:
// it never affects the response.
func Usage(usage *service.UsageService, defaultUnits int) gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()

		units := defaultUnits
		if value, ok := c.Get(billedUnitsContextKey); ok {
			if casted, valid := value.(int); valid {
				units = casted
			}
		}

		var apiKeyID *uuid.UUID
		if dev, ok := GetDeveloper(c); ok {
			id := dev.KeyID
			apiKeyID = &id
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		latency := time.Since(startedAt)
		metrics.ObserveRequestDuration(route, c.Request.Method, latency)
		usage.Record(
			apiKeyID,
			route,
			c.Request.Method,
			c.Writer.Status(),
			latency.Milliseconds(),
			units,
		)
	}
}
