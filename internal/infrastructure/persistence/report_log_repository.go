package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/usagehq/metering/internal/domain/shared"
	"github.com/usagehq/metering/internal/infrastructure/billing"
)

// OverageReportLogModel is the GORM model for overage report logs
type OverageReportLogModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID `gorm:"type:uuid;index;not null"`
	Capability         string    `gorm:"type:varchar(20);not null"`
	SubscriptionItemID string    `gorm:"type:varchar(255);not null"`
	Quantity           int64     `gorm:"not null"`
	PeriodStart        time.Time `gorm:"not null"`
	ProviderRecordID   string    `gorm:"type:varchar(255)"`
	Status             string    `gorm:"type:varchar(20);index;not null"`
	ErrorMessage       string    `gorm:"type:text"`
	RetryCount         int       `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (OverageReportLogModel) TableName() string {
	return "overage_report_logs"
}

func (m *OverageReportLogModel) toEntry() *billing.OverageReportLog {
	return &billing.OverageReportLog{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		Capability:         m.Capability,
		SubscriptionItemID: m.SubscriptionItemID,
		Quantity:           m.Quantity,
		PeriodStart:        m.PeriodStart,
		ProviderRecordID:   m.ProviderRecordID,
		Status:             billing.ReportStatus(m.Status),
		ErrorMessage:       m.ErrorMessage,
		RetryCount:         m.RetryCount,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// ReportLogRepository implements the billing.ReportLogRepository interface
type ReportLogRepository struct {
	db *gorm.DB
}

// NewReportLogRepository creates a new report log repository
func NewReportLogRepository(db *gorm.DB) *ReportLogRepository {
	return &ReportLogRepository{db: db}
}

var _ billing.ReportLogRepository = (*ReportLogRepository)(nil)

// Save persists a report log entry
func (r *ReportLogRepository) Save(ctx context.Context, log *billing.OverageReportLog) error {
	model := &OverageReportLogModel{
		ID:                 log.ID,
		TenantID:           log.TenantID,
		Capability:         log.Capability,
		SubscriptionItemID: log.SubscriptionItemID,
		Quantity:           log.Quantity,
		PeriodStart:        log.PeriodStart,
		ProviderRecordID:   log.ProviderRecordID,
		Status:             string(log.Status),
		ErrorMessage:       log.ErrorMessage,
		RetryCount:         log.RetryCount,
		CreatedAt:          log.CreatedAt,
		UpdatedAt:          log.UpdatedAt,
	}
	return r.db.WithContext(ctx).Create(model).Error
}

// MarkSuccess marks a report as delivered
func (r *ReportLogRepository) MarkSuccess(ctx context.Context, id uuid.UUID, providerRecordID string, retryCount int) error {
	return r.updateStatus(ctx, id, map[string]interface{}{
		"status":             string(billing.ReportStatusSuccess),
		"provider_record_id": providerRecordID,
		"retry_count":        retryCount,
		"error_message":      "",
		"updated_at":         time.Now(),
	})
}

// MarkFailed marks a report as failed or abandoned
func (r *ReportLogRepository) MarkFailed(ctx context.Context, id uuid.UUID, status billing.ReportStatus, errorMessage string, retryCount int) error {
	return r.updateStatus(ctx, id, map[string]interface{}{
		"status":        string(status),
		"error_message": errorMessage,
		"retry_count":   retryCount,
		"updated_at":    time.Now(),
	})
}

func (r *ReportLogRepository) updateStatus(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&OverageReportLogModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByTenant retrieves report logs for a tenant within [start, end)
func (r *ReportLogRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, start, end time.Time) ([]*billing.OverageReportLog, error) {
	var models []OverageReportLogModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", tenantID, start, end).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	logs := make([]*billing.OverageReportLog, len(models))
	for i := range models {
		logs[i] = models[i].toEntry()
	}
	return logs, nil
}
