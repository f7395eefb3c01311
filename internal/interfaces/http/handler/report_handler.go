package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/usagehq/metering/internal/infrastructure/billing"
)

// defaultReportWindow is how far back the report listing looks when no
// range is given
const defaultReportWindow = 30 * 24 * time.Hour

// ReportHandler exposes the overage report audit trail
type ReportHandler struct {
	BaseHandler
	reportLogs billing.ReportLogRepository
	logger     *zap.Logger
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(reportLogs billing.ReportLogRepository, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		reportLogs: reportLogs,
		logger:     logger,
	}
}

// RegisterRoutes registers report routes on the given group
func (h *ReportHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/usage/reports", h.ListReports)
}

// ListReportsRequest holds the optional time range query parameters
type ListReportsRequest struct {
	From string `form:"from" binding:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	To   string `form:"to" binding:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// OverageReportLogResponse is one provider submission in the audit trail
type OverageReportLogResponse struct {
	ID               uuid.UUID `json:"id"`
	Capability       string    `json:"capability"`
	Quantity         int64     `json:"quantity"`
	PeriodStart      time.Time `json:"period_start"`
	Status           string    `json:"status"`
	ProviderRecordID string    `json:"provider_record_id,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	RetryCount       int       `json:"retry_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListReports godoc
// @ID           listOverageReports
// @Summary      List overage report submissions
// @Description  Returns the tenant's overage submissions to the billing provider within the given time range. Defaults to the last 30 days.
// @Tags         usage
// @Produce      json
// @Param        from query string false "Range start (RFC3339)"
// @Param        to   query string false "Range end (RFC3339)"
// @Success      200 {object} dto.Response{data=[]OverageReportLogResponse}
// @Failure      400 {object} dto.Response
// @Router       /usage/reports [get]
func (h *ReportHandler) ListReports(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant could not be resolved from credentials")
		return
	}

	var req ListReportsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	end := time.Now()
	start := end.Add(-defaultReportWindow)
	if req.From != "" {
		start, _ = time.Parse(time.RFC3339, req.From)
	}
	if req.To != "" {
		end, _ = time.Parse(time.RFC3339, req.To)
	}
	if !start.Before(end) {
		h.BadRequest(c, "'from' must be before 'to'")
		return
	}

	logs, err := h.reportLogs.FindByTenant(c.Request.Context(), tenantID, start, end)
	if err != nil {
		h.logger.Error("Failed to list overage reports",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err))
		h.InternalError(c, "Failed to list overage reports")
		return
	}

	items := make([]OverageReportLogResponse, 0, len(logs))
	for _, log := range logs {
		items = append(items, OverageReportLogResponse{
			ID:               log.ID,
			Capability:       log.Capability,
			Quantity:         log.Quantity,
			PeriodStart:      log.PeriodStart,
			Status:           log.Status.String(),
			ProviderRecordID: log.ProviderRecordID,
			ErrorMessage:     log.ErrorMessage,
			RetryCount:       log.RetryCount,
			CreatedAt:        log.CreatedAt,
		})
	}

	h.Success(c, items)
}
