package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appmetering "github.com/usagehq/metering/internal/application/metering"
	domain "github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/shared"
	"github.com/usagehq/metering/internal/interfaces/http/dto"
)

// UsageRecorder records billable usage events
type UsageRecorder interface {
	RecordEvent(ctx context.Context, input appmetering.RecordEventInput) (*appmetering.RecordEventResult, error)
}

// UsageQuerier answers usage stat queries from the counter cache
type UsageQuerier interface {
	GetUsageStats(ctx context.Context, tenantID uuid.UUID) (*appmetering.UsageStatsDTO, error)
}

// UsageHandler handles the usage recording and query endpoints
type UsageHandler struct {
	BaseHandler
	recorder UsageRecorder
	querier  UsageQuerier
	logger   *zap.Logger
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(recorder UsageRecorder, querier UsageQuerier, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		recorder: recorder,
		querier:  querier,
		logger:   logger,
	}
}

// RegisterRoutes registers usage routes on the given group
func (h *UsageHandler) RegisterRoutes(rg *gin.RouterGroup) {
	usage := rg.Group("/usage")
	{
		usage.GET("", h.GetUsageStats)
		usage.POST("/events", h.RecordEvent)
	}
}

// RecordEventRequest is the payload for recording one billable action
type RecordEventRequest struct {
	Capability     string         `json:"capability" binding:"required" example:"EMAIL"`
	ActionType     string         `json:"action_type" binding:"required" example:"PROCESSED"`
	ResourceID     string         `json:"resource_id" example:"msg_8f3a"`
	Quantity       int64          `json:"quantity" example:"1"`
	IdempotencyKey string         `json:"idempotency_key" example:"evt_2026_02_14_0001"`
	Metadata       map[string]any `json:"metadata"`
}

// RecordEventResponse reports the stored event
type RecordEventResponse struct {
	EventID    uuid.UUID `json:"event_id"`
	Duplicate  bool      `json:"duplicate"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordEvent godoc
// @ID           recordUsageEvent
// @Summary      Record a usage event
// @Description  Appends a billable action to the usage ledger and bumps the period counter. Replays with the same idempotency key return the original event.
// @Tags         usage
// @Accept       json
// @Produce      json
// @Param        request body RecordEventRequest true "Usage event"
// @Success      200 {object} dto.Response{data=RecordEventResponse}
// @Failure      400 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /usage/events [post]
func (h *UsageHandler) RecordEvent(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant could not be resolved from credentials")
		return
	}

	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidJSON), dto.ErrCodeInvalidJSON, err.Error())
		return
	}

	capability, err := domain.ParseCapability(req.Capability)
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidCapability, err.Error())
		return
	}
	actionType, err := domain.ParseActionType(req.ActionType)
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidActionType, err.Error())
		return
	}

	result, err := h.recorder.RecordEvent(c.Request.Context(), appmetering.RecordEventInput{
		TenantID:       tenantID,
		Capability:     capability,
		ActionType:     actionType,
		ResourceID:     req.ResourceID,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.handleRecordError(c, tenantID, err)
		return
	}

	h.Success(c, RecordEventResponse{
		EventID:    result.Event.ID,
		Duplicate:  result.Duplicate,
		RecordedAt: result.Event.RecordedAt,
	})
}

// handleRecordError maps recording failures onto the error envelope
func (h *UsageHandler) handleRecordError(c *gin.Context, tenantID uuid.UUID, err error) {
	var cfgErr *appmetering.ConfigurationError
	if errors.As(err, &cfgErr) {
		h.Error(c, cfgErr.HTTPStatusCode(), dto.ErrCodeConfiguration, cfgErr.Message)
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		h.ErrorWithCode(c, dto.ErrCodeValidation, domainErr.Message)
		return
	}

	h.logger.Error("Failed to record usage event",
		zap.String("tenant_id", tenantID.String()),
		zap.Error(err))
	h.InternalError(c, "Failed to record usage event")
}

// GetUsageStats godoc
// @ID           getUsageStats
// @Summary      Get current period usage
// @Description  Returns per-capability usage, limits and overage cost for the tenant's current billing period.
// @Tags         usage
// @Produce      json
// @Success      200 {object} dto.Response{data=metering.UsageStatsDTO}
// @Failure      404 {object} dto.Response
// @Router       /usage [get]
func (h *UsageHandler) GetUsageStats(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant could not be resolved from credentials")
		return
	}

	stats, err := h.querier.GetUsageStats(c.Request.Context(), tenantID)
	if err != nil {
		var noSub *appmetering.NoSubscriptionError
		if errors.As(err, &noSub) {
			h.ErrorWithCode(c, dto.ErrCodeNoSubscription, noSub.Error())
			return
		}

		h.logger.Error("Failed to query usage stats",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		h.InternalError(c, "Failed to query usage stats")
		return
	}

	h.Success(c, stats)
}
