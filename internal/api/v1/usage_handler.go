package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/middleware"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/response"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

type UsageHandler struct {
	usageService *service.UsageService
}

func NewUsageHandler(usageService *service.UsageService) *UsageHandler {
	return &UsageHandler{usageService: usageService}
}

func RegisterUsageRoutes(group *gin.RouterGroup, keys *service.APIKeyService, usage *service.UsageService) {
	if keys == nil || usage == nil {
		return
	}

	handler := NewUsageHandler(usage)
	usageGroup := group.Group("/usage")
	usageGroup.Use(middleware.Guard(keys, "admin:usage"))

	usageGroup.GET("/summary", handler.Summary)
}

// Summary aggregates the metering ledger for one api key over a time range.
// The range defaults to the last 24 hours.
func (h *UsageHandler) Summary(c *gin.Context) {
	rawKeyID := strings.TrimSpace(c.Query("apiKeyId"))
	if rawKeyID == "" {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "apiKeyId is required")
		return
	}
	keyID, err := uuid.Parse(rawKeyID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid apiKeyId")
		return
	}

	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now

	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid from timestamp")
			return
		}
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid to timestamp")
			return
		}
	}
	if !to.After(from) {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "to must be after from")
		return
	}

	summary, err := h.usageService.Summary(c.Request.Context(), keyID, from, to)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.KindInternal, "internal error")
		return
	}

	response.OK(c, summary)
}
