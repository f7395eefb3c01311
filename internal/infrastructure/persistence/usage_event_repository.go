package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/shared"
)

// UsageEventModel is the GORM model for usage events
type UsageEventModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID `gorm:"type:uuid;index:idx_usage_events_tenant_period;not null"`
	Capability     string    `gorm:"type:varchar(20);index:idx_usage_events_tenant_period;not null"`
	ActionType     string    `gorm:"type:varchar(20);not null"`
	ResourceID     string    `gorm:"type:varchar(255)"`
	Quantity       int64     `gorm:"not null;default:1"`
	IdempotencyKey string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Metadata       []byte    `gorm:"type:jsonb;default:'{}'"`
	RecordedAt     time.Time `gorm:"index:idx_usage_events_tenant_period;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsageEventModel) TableName() string {
	return "usage_events"
}

// ToEntity converts the model to a domain entity
func (m *UsageEventModel) ToEntity() *metering.UsageEvent {
	capability, _ := metering.ParseCapability(m.Capability)
	actionType, _ := metering.ParseActionType(m.ActionType)

	var metadata metering.Metadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &metadata)
	}
	if metadata == nil {
		metadata = make(metering.Metadata)
	}

	return &metering.UsageEvent{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:       m.TenantID,
		Capability:     capability,
		ActionType:     actionType,
		ResourceID:     m.ResourceID,
		Quantity:       m.Quantity,
		IdempotencyKey: m.IdempotencyKey,
		Metadata:       metadata,
		RecordedAt:     m.RecordedAt,
	}
}

// UsageEventModelFromEntity creates a model from a domain entity
func UsageEventModelFromEntity(e *metering.UsageEvent) *UsageEventModel {
	var metadataBytes []byte
	if e.Metadata != nil {
		metadataBytes, _ = json.Marshal(e.Metadata)
	} else {
		metadataBytes = []byte("{}")
	}

	return &UsageEventModel{
		ID:             e.ID,
		TenantID:       e.TenantID,
		Capability:     string(e.Capability),
		ActionType:     string(e.ActionType),
		ResourceID:     e.ResourceID,
		Quantity:       e.Quantity,
		IdempotencyKey: e.IdempotencyKey,
		Metadata:       metadataBytes,
		RecordedAt:     e.RecordedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// UsageEventRepository implements the metering.UsageEventRepository interface
type UsageEventRepository struct {
	db *gorm.DB
}

// NewUsageEventRepository creates a new usage event repository
func NewUsageEventRepository(db *gorm.DB) *UsageEventRepository {
	return &UsageEventRepository{db: db}
}

var _ metering.UsageEventRepository = (*UsageEventRepository)(nil)

// Save persists a usage event. The insert races against duplicates via
// ON CONFLICT DO NOTHING on the idempotency key; when nothing was
// inserted the previously stored event is fetched and returned.
func (r *UsageEventRepository) Save(ctx context.Context, event *metering.UsageEvent) (*metering.UsageEvent, bool, error) {
	return saveEvent(r.db.WithContext(ctx), event)
}

// saveEvent is shared with the transactional ledger store
func saveEvent(db *gorm.DB, event *metering.UsageEvent) (*metering.UsageEvent, bool, error) {
	model := UsageEventModelFromEntity(event)
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(model)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return model.ToEntity(), true, nil
	}

	var existing UsageEventModel
	if err := db.First(&existing, "idempotency_key = ?", event.IdempotencyKey).Error; err != nil {
		return nil, false, err
	}
	return existing.ToEntity(), false, nil
}

// FindByID retrieves a usage event by its ID
func (r *UsageEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*metering.UsageEvent, error) {
	var model UsageEventModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByIdempotencyKey retrieves a usage event by its idempotency key
func (r *UsageEventRepository) FindByIdempotencyKey(ctx context.Context, key string) (*metering.UsageEvent, error) {
	var model UsageEventModel
	if err := r.db.WithContext(ctx).First(&model, "idempotency_key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByTenantAndPeriod retrieves all events for a tenant and capability
// recorded within [periodStart, periodEnd)
func (r *UsageEventRepository) FindByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, capability metering.Capability, periodStart, periodEnd time.Time) ([]*metering.UsageEvent, error) {
	var models []UsageEventModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND capability = ? AND recorded_at >= ? AND recorded_at < ?",
			tenantID, string(capability), periodStart, periodEnd).
		Order("recorded_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]*metering.UsageEvent, len(models))
	for i := range models {
		events[i] = models[i].ToEntity()
	}
	return events, nil
}

// SumForPeriod returns the sum of event quantities for a tenant and
// capability within [periodStart, periodEnd)
func (r *UsageEventRepository) SumForPeriod(ctx context.Context, tenantID uuid.UUID, capability metering.Capability, periodStart, periodEnd time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&UsageEventModel{}).
		Where("tenant_id = ? AND capability = ? AND recorded_at >= ? AND recorded_at < ?",
			tenantID, string(capability), periodStart, periodEnd).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	return total, err
}

// CountForPeriod returns the number of events for a tenant and
// capability within [periodStart, periodEnd)
func (r *UsageEventRepository) CountForPeriod(ctx context.Context, tenantID uuid.UUID, capability metering.Capability, periodStart, periodEnd time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&UsageEventModel{}).
		Where("tenant_id = ? AND capability = ? AND recorded_at >= ? AND recorded_at < ?",
			tenantID, string(capability), periodStart, periodEnd).
		Count(&count).Error
	return count, err
}
