package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/middleware"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/api/response"
	"github.com/KingMansaMusaMarketplace/circulate-black-wealth-hub-sub011/internal/service"
)

type AttributionHandler struct {
	attributionService *service.AttributionService
}

type calculateRequest struct {
	Amount   float64 `json:"amount" binding:"required"`
	Category string  `json:"category"`
	Tier     string  `json:"tier"`
}

type attributeRequest struct {
	TransactionID string                    `json:"transactionId" binding:"required"`
	Chain         []attributeRequestElement `json:"chain" binding:"required"`
}

type attributeRequestElement struct {
	ParticipantID string  `json:"participantId" binding:"required"`
	Amount        float64 `json:"amount"`
	Category      string  `json:"category"`
}

func NewAttributionHandler(attributionService *service.AttributionService) *AttributionHandler {
	return &AttributionHandler{attributionService: attributionService}
}

func RegisterAttributionRoutes(group *gin.RouterGroup, attributionService *service.AttributionService, keys *service.APIKeyService) {
	if attributionService == nil || keys == nil {
		return
	}

	handler := NewAttributionHandler(attributionService)
	group.POST("/calculate", middleware.Guard(keys, "calculate:read"), handler.Calculate)
	group.POST("/attribute", middleware.Guard(keys, "calculate:read"), handler.Attribute)
}

func (h *AttributionHandler) Calculate(c *gin.Context) {
	var req calculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid request body")
		return
	}

	middleware.SetBilledUnits(c, 1)

	breakdown, err := h.attributionService.Calculate(req.Amount, req.Category, req.Tier)
	if err != nil {
		handleAttributionError(c, err)
		return
	}

	response.OK(c, breakdown)
}

func (h *AttributionHandler) Attribute(c *gin.Context) {
	var req attributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid request body")
		return
	}

	transactionID, err := uuid.Parse(strings.TrimSpace(req.TransactionID))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid transactionId")
		return
	}

	chain := make([]service.ChainParticipant, 0, len(req.Chain))
	for _, element := range req.Chain {
		participantID, parseErr := uuid.Parse(strings.TrimSpace(element.ParticipantID))
		if parseErr != nil {
			response.Fail(c, http.StatusBadRequest, response.KindValidation, "invalid participantId")
			return
		}
		chain = append(chain, service.ChainParticipant{
			ParticipantID: participantID,
			Amount:        element.Amount,
			Category:      element.Category,
		})
	}

	// Chain attribution bills per participant.
	middleware.SetBilledUnits(c, len(chain))

	result, err := h.attributionService.Attribute(transactionID, chain)
	if err != nil {
		handleAttributionError(c, err)
		return
	}

	response.OK(c, result)
}

func handleAttributionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "amount must be greater than zero")
	case errors.Is(err, service.ErrEmptyChain):
		response.Fail(c, http.StatusBadRequest, response.KindValidation, "chain must not be empty")
	default:
		response.Fail(c, http.StatusInternalServerError, response.KindInternal, "internal error")
	}
}
