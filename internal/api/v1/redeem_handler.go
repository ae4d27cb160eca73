package v1

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/middleware"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/response"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

type RedeemHandler struct {
	redemptionService *service.RedemptionService
}

type redeemRequest struct {
	CodeID   string `json:"codeId" binding:"required"`
	CallerID string `json:"callerId" binding:"required"`
}

func NewRedeemHandler(redemptionService *service.RedemptionService) *RedeemHandler {
	return &RedeemHandler{redemptionService: redemptionService}
}

func RegisterRedeemRoutes(group *gin.RouterGroup, redemptionService *service.RedemptionService, keys *service.APIKeyService) {
	if redemptionService == nil || keys == nil {
		return
	}

	handler := NewRedeemHandler(redemptionService)
	group.POST("/redeem", middleware.Guard(keys, "redeem:write"), handler.Redeem)
	group.GET("/redeem/history", middleware.Guard(keys, "redeem:read"), handler.ListHistory)
	group.GET("/balance", middleware.Guard(keys, "redeem:read"), handler.Balance)
}

func (h *RedeemHandler) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid request body")
		return
	}

	codeID, err := uuid.Parse(strings.TrimSpace(req.CodeID))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid codeId")
		return
	}
	callerID, err := uuid.Parse(strings.TrimSpace(req.CallerID))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid callerId")
		return
	}

	middleware.SetBilledUnits(c, 1)

	result, err := h.redemptionService.Redeem(c.Request.Context(), codeID, callerID)
	if err != nil {
		handleRedemptionError(c, err)
		return
	}

	response.OK(c, result)
}

func (h *RedeemHandler) ListHistory(c *gin.Context) {
	callerID, err := uuid.Parse(strings.TrimSpace(c.Query("callerId")))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid callerId")
		return
	}

	page := parseIntOrDefault(c.Query("page"), 1)
	pageSize := parseIntOrDefault(c.Query("pageSize"), 20)

	items, total, err := h.redemptionService.ListScanHistory(c.Request.Context(), callerID, page, pageSize)
	if err != nil {
		handleRedemptionError(c, err)
		return
	}

	response.OK(c, gin.H{
		"items":    items,
		"page":     page,
		"pageSize": pageSize,
		"total":    total,
	})
}

func (h *RedeemHandler) Balance(c *gin.Context) {
	customerID, err := uuid.Parse(strings.TrimSpace(c.Query("callerId")))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid callerId")
		return
	}
	issuerID, err := uuid.Parse(strings.TrimSpace(c.Query("issuerId")))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid issuerId")
		return
	}

	balance, err := h.redemptionService.Balance(c.Request.Context(), customerID, issuerID)
	if err != nil {
		handleRedemptionError(c, err)
		return
	}

	response.OK(c, balance)
}

func handleRedemptionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCodeNotFound):
		response.Fail(c, http.StatusNotFound, response.KindNotFound, "code not found")
	case errors.Is(err, service.ErrCodeInactive):
		response.Fail(c, http.StatusConflict, response.KindInactive, "code is inactive")
	case errors.Is(err, service.ErrCodeExpired):
		response.Fail(c, http.StatusConflict, response.KindExpired, "code expired")
	case errors.Is(err, service.ErrCodeLimitExceeded):
		response.Fail(c, http.StatusConflict, response.KindLimitExceeded, "code scan limit exceeded")
	case errors.Is(err, service.ErrCallerUnauthorized):
		response.Fail(c, http.StatusUnauthorized, response.KindUnauthorized, "caller is not authenticated")
	case errors.Is(err, service.ErrBalanceNotFound):
		response.Fail(c, http.StatusNotFound, response.KindNotFound, "balance not found")
	case errors.Is(err, service.ErrInvalidCodeInput):
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid request")
	default:
		response.Fail(c, http.StatusInternalServerError, response.KindInternal, "internal error")
	}
}

func parseIntOrDefault(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
