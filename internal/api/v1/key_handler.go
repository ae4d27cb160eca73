package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/middleware"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/response"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/model"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

type KeyHandler struct {
	keyService *service.APIKeyService
}

type createKeyRequest struct {
	DeveloperID        string   `json:"developerId" binding:"required"`
	Name               string   `json:"name" binding:"required"`
	Scopes             []string `json:"scopes" binding:"required"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute"`
}

type setKeyStatusRequest struct {
	ID     string `json:"id" binding:"required"`
	Status string `json:"status" binding:"required"`
}

func NewKeyHandler(keyService *service.APIKeyService) *KeyHandler {
	return &KeyHandler{keyService: keyService}
}

func RegisterKeyRoutes(group *gin.RouterGroup, keys *service.APIKeyService) {
	if keys == nil {
		return
	}

	handler := NewKeyHandler(keys)
	keyGroup := group.Group("/keys")
	keyGroup.Use(middleware.Guard(keys, "admin:keys"))

	keyGroup.POST("", handler.Create)
	keyGroup.GET("", handler.List)
	keyGroup.PATCH("/status", handler.SetStatus)
}

func (h *KeyHandler) Create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid request body")
		return
	}

	developerID, err := uuid.Parse(strings.TrimSpace(req.DeveloperID))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid developerId")
		return
	}

	key, rawKey, err := h.keyService.Create(c.Request.Context(), service.CreateKeyRequest{
		DeveloperID:        developerID,
		Name:               req.Name,
		Scopes:             req.Scopes,
		RateLimitPerMinute: req.RateLimitPerMinute,
	})
	if err != nil {
		handleKeyError(c, err)
		return
	}

	// The raw key is returned exactly once; only the digest is stored.
	response.OK(c, gin.H{"key": key, "rawKey": rawKey})
}

func (h *KeyHandler) List(c *gin.Context) {
	page := parseIntOrDefault(c.Query("page"), 1)
	pageSize := parseIntOrDefault(c.Query("pageSize"), 20)

	var developerID *uuid.UUID
	if raw := strings.TrimSpace(c.Query("developerId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid developerId")
			return
		}
		developerID = &id
	}

	items, err := h.keyService.List(c.Request.Context(), developerID, page, pageSize)
	if err != nil {
		handleKeyError(c, err)
		return
	}

	response.OK(c, gin.H{
		"items":    items,
		"page":     page,
		"pageSize": pageSize,
	})
}

func (h *KeyHandler) SetStatus(c *gin.Context) {
	var req setKeyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid request body")
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(req.ID))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid id")
		return
	}

	status := model.APIKeyStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err := h.keyService.UpdateStatus(c.Request.Context(), id, status); err != nil {
		handleKeyError(c, err)
		return
	}

	response.OK(c, gin.H{"id": id, "status": status})
}

func handleKeyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrKeyUnauthorized):
		response.Fail(c, http.StatusNotFound, response.KindNotFound, "api key not found")
	case errors.Is(err, service.ErrInvalidKeyInput):
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid request")
	default:
		response.Fail(c, http.StatusInternalServerError, response.KindInternal, "internal error")
	}
}
