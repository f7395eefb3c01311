package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OverageReportLog is the audit trail of provider reports. Each overage
// submission gets a row tracking its lifecycle across retries.
type OverageReportLog struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	Capability         string
	SubscriptionItemID string
	Quantity           int64
	PeriodStart        time.Time
	ProviderRecordID   string
	Status             ReportStatus
	ErrorMessage       string
	RetryCount         int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ReportStatus represents the lifecycle state of an overage report
type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "pending"
	ReportStatusSuccess   ReportStatus = "success"
	ReportStatusFailed    ReportStatus = "failed"
	ReportStatusAbandoned ReportStatus = "abandoned"
)

// String returns the string representation of ReportStatus
func (s ReportStatus) String() string {
	return string(s)
}

// NewOverageReportLog creates a pending log entry for one submission
func NewOverageReportLog(tenantID uuid.UUID, capability, itemID string, quantity int64, periodStart time.Time) *OverageReportLog {
	now := time.Now()
	return &OverageReportLog{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		Capability:         capability,
		SubscriptionItemID: itemID,
		Quantity:           quantity,
		PeriodStart:        periodStart,
		Status:             ReportStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// ReportLogRepository defines the interface for overage report log
// persistence
type ReportLogRepository interface {
	// Save persists a report log entry
	Save(ctx context.Context, log *OverageReportLog) error

	// MarkSuccess marks a report as delivered, recording the provider
	// record ID and the final retry count
	MarkSuccess(ctx context.Context, id uuid.UUID, providerRecordID string, retryCount int) error

	// MarkFailed marks a report as failed with the last error message
	// and retry count. Abandoned is used when the run's breaker tripped
	// before the report was attempted.
	MarkFailed(ctx context.Context, id uuid.UUID, status ReportStatus, errorMessage string, retryCount int) error

	// FindByTenant retrieves report logs for a tenant within [start, end)
	FindByTenant(ctx context.Context, tenantID uuid.UUID, start, end time.Time) ([]*OverageReportLog, error)
}
