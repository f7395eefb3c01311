package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/shared"
)

// UsageCounterModel is the GORM model for usage counters
type UsageCounterModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID  `gorm:"type:uuid;uniqueIndex:idx_usage_counters_key;not null"`
	Capability  string     `gorm:"type:varchar(20);uniqueIndex:idx_usage_counters_key;not null"`
	PeriodStart time.Time  `gorm:"uniqueIndex:idx_usage_counters_key;not null"`
	PeriodEnd   time.Time  `gorm:"not null"`
	Count       int64      `gorm:"not null;default:0"`
	LastEventAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsageCounterModel) TableName() string {
	return "usage_counters"
}

// ToEntity converts the model to a domain entity
func (m *UsageCounterModel) ToEntity() *metering.UsageCounter {
	capability, _ := metering.ParseCapability(m.Capability)
	return &metering.UsageCounter{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:    m.TenantID,
		Capability:  capability,
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
		Count:       m.Count,
		LastEventAt: m.LastEventAt,
	}
}

// UsageCounterModelFromEntity creates a model from a domain entity
func UsageCounterModelFromEntity(e *metering.UsageCounter) *UsageCounterModel {
	return &UsageCounterModel{
		ID:          e.ID,
		TenantID:    e.TenantID,
		Capability:  string(e.Capability),
		PeriodStart: e.PeriodStart,
		PeriodEnd:   e.PeriodEnd,
		Count:       e.Count,
		LastEventAt: e.LastEventAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// UsageCounterRepository implements the metering.UsageCounterRepository interface
type UsageCounterRepository struct {
	db *gorm.DB
}

// NewUsageCounterRepository creates a new usage counter repository
func NewUsageCounterRepository(db *gorm.DB) *UsageCounterRepository {
	return &UsageCounterRepository{db: db}
}

var _ metering.UsageCounterRepository = (*UsageCounterRepository)(nil)

// GetOrCreate returns the counter for (tenant, capability, periodStart),
// inserting a zeroed row when none exists. Concurrent creators race
// through ON CONFLICT DO NOTHING and the loser reads the winner's row.
func (r *UsageCounterRepository) GetOrCreate(ctx context.Context, counter *metering.UsageCounter) (*metering.UsageCounter, bool, error) {
	return getOrCreateCounter(r.db.WithContext(ctx), counter)
}

// getOrCreateCounter is shared with the transactional ledger store
func getOrCreateCounter(db *gorm.DB, counter *metering.UsageCounter) (*metering.UsageCounter, bool, error) {
	model := UsageCounterModelFromEntity(counter)
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "capability"}, {Name: "period_start"}},
		DoNothing: true,
	}).Create(model)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected > 0 {
		return model.ToEntity(), true, nil
	}

	var existing UsageCounterModel
	err := db.First(&existing,
		"tenant_id = ? AND capability = ? AND period_start = ?",
		counter.TenantID, string(counter.Capability), counter.PeriodStart).Error
	if err != nil {
		return nil, false, err
	}
	return existing.ToEntity(), false, nil
}

// IncrementCount atomically adds delta to the counter's count and
// stamps the last event time
func (r *UsageCounterRepository) IncrementCount(ctx context.Context, id uuid.UUID, delta int64, eventAt time.Time) error {
	return incrementCounter(r.db.WithContext(ctx), id, delta, eventAt)
}

// incrementCounter is shared with the transactional ledger store
func incrementCounter(db *gorm.DB, id uuid.UUID, delta int64, eventAt time.Time) error {
	result := db.Model(&UsageCounterModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"count":         gorm.Expr("count + ?", delta),
			"last_event_at": eventAt,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetCount overwrites the counter's count with a reconciled value
func (r *UsageCounterRepository) SetCount(ctx context.Context, id uuid.UUID, count int64) error {
	result := r.db.WithContext(ctx).Model(&UsageCounterModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"count":      count,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByTenantAndPeriod retrieves the counter for a tenant, capability
// and period start
func (r *UsageCounterRepository) FindByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, capability metering.Capability, periodStart time.Time) (*metering.UsageCounter, error) {
	var model UsageCounterModel
	err := r.db.WithContext(ctx).First(&model,
		"tenant_id = ? AND capability = ? AND period_start = ?",
		tenantID, string(capability), periodStart).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByTenantAndPeriodEnd retrieves the counter for a tenant and
// capability whose period ends at periodEnd
func (r *UsageCounterRepository) FindByTenantAndPeriodEnd(ctx context.Context, tenantID uuid.UUID, capability metering.Capability, periodEnd time.Time) (*metering.UsageCounter, error) {
	var model UsageCounterModel
	err := r.db.WithContext(ctx).First(&model,
		"tenant_id = ? AND capability = ? AND period_end = ?",
		tenantID, string(capability), periodEnd).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindAllByTenantAndPeriod retrieves all capability counters for a
// tenant in the period starting at periodStart
func (r *UsageCounterRepository) FindAllByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) ([]*metering.UsageCounter, error) {
	var models []UsageCounterModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND period_start = ?", tenantID, periodStart).
		Order("capability ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	counters := make([]*metering.UsageCounter, len(models))
	for i := range models {
		counters[i] = models[i].ToEntity()
	}
	return counters, nil
}

// FindAllForPeriod retrieves every counter for the period starting at
// periodStart, across all tenants
func (r *UsageCounterRepository) FindAllForPeriod(ctx context.Context, periodStart time.Time) ([]*metering.UsageCounter, error) {
	var models []UsageCounterModel
	err := r.db.WithContext(ctx).
		Where("period_start = ?", periodStart).
		Order("tenant_id ASC, capability ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	counters := make([]*metering.UsageCounter, len(models))
	for i := range models {
		counters[i] = models[i].ToEntity()
	}
	return counters, nil
}
