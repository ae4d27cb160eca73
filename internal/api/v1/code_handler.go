package v1

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/middleware"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/response"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

type CodeHandler struct {
	redemptionService *service.RedemptionService
}

type batchGenerateRequest struct {
	Count       int     `json:"count" binding:"required"`
	IssuerID    string  `json:"issuerId" binding:"required"`
	Type        string  `json:"type"`
	PointsValue int     `json:"pointsValue"`
	DiscountPct float64 `json:"discountPct"`
	ScanLimit   *int    `json:"scanLimit"`
	ExpiresAt   *string `json:"expiresAt"`
}

type setCodeStatusRequest struct {
	IDs    []string `json:"ids" binding:"required"`
	Active bool     `json:"active"`
}

func NewCodeHandler(redemptionService *service.RedemptionService) *CodeHandler {
	return &CodeHandler{redemptionService: redemptionService}
}

func RegisterCodeRoutes(group *gin.RouterGroup, redemptionService *service.RedemptionService, keys *service.APIKeyService) {
	if redemptionService == nil || keys == nil {
		return
	}

	handler := NewCodeHandler(redemptionService)
	codes := group.Group("/codes")
	codes.Use(middleware.Guard(keys, "admin:codes"))

	codes.GET("", handler.List)
	codes.POST("/batch-generate", handler.BatchGenerate)
	codes.PATCH("/status", handler.SetStatus)
}

func (h *CodeHandler) BatchGenerate(c *gin.Context) {
	dev, ok := middleware.GetDeveloper(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.KindUnauthorized, "unauthorized")
		return
	}

	var req batchGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid request body")
		return
	}

	issuerID, err := uuid.Parse(strings.TrimSpace(req.IssuerID))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid issuerId")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil && strings.TrimSpace(*req.ExpiresAt) != "" {
		parsed, parseErr := time.Parse(time.RFC3339, strings.TrimSpace(*req.ExpiresAt))
		if parseErr != nil {
			response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid expiresAt")
			return
		}
		expiresAt = &parsed
	}

	items, err := h.redemptionService.BatchGenerate(c.Request.Context(), dev.DeveloperID, service.BatchGenerateRequest{
		Count:       req.Count,
		IssuerID:    issuerID,
		Type:        model.CodeType(strings.TrimSpace(req.Type)),
		PointsValue: req.PointsValue,
		DiscountPct: req.DiscountPct,
		ScanLimit:   req.ScanLimit,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		handleRedemptionError(c, err)
		return
	}

	response.OK(c, gin.H{"generated": len(items), "items": items})
}

func (h *CodeHandler) List(c *gin.Context) {
	page := parseIntOrDefault(c.Query("page"), 1)
	pageSize := parseIntOrDefault(c.Query("pageSize"), 20)

	filter := service.CodeListFilter{}
	if raw := strings.TrimSpace(c.Query("issuerId")); raw != "" {
		issuerID, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid issuerId")
			return
		}
		filter.IssuerID = &issuerID
	}
	if raw := strings.TrimSpace(c.Query("type")); raw != "" {
		codeType := model.CodeType(raw)
		filter.Type = &codeType
	}
	if raw := strings.TrimSpace(c.Query("isActive")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid isActive")
			return
		}
		filter.IsActive = &value
	}

	items, total, err := h.redemptionService.List(c.Request.Context(), page, pageSize, filter)
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

func (h *CodeHandler) SetStatus(c *gin.Context) {
	var req setCodeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid request body")
		return
	}

	ids := make([]uuid.UUID, 0, len(req.IDs))
	for _, raw := range req.IDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid code id")
			return
		}
		ids = append(ids, id)
	}

	if err := h.redemptionService.SetActive(c.Request.Context(), ids, req.Active); err != nil {
		handleRedemptionError(c, err)
		return
	}

	response.OK(c, gin.H{"updated": len(ids), "active": req.Active})
}
