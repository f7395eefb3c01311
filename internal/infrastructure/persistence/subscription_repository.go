package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/shared"
	"github.com/usagehq/metering/internal/domain/subscription"
)

// SubscriptionModel is the GORM model for subscriptions. The table is
// owned by the billing system; this repository only reads it.
type SubscriptionModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID `gorm:"type:uuid;index;not null"`
	PlanCode           string    `gorm:"type:varchar(50);not null"`
	Status             string    `gorm:"type:varchar(20);index;not null"`
	CurrentPeriodStart time.Time `gorm:"not null"`
	CurrentPeriodEnd   time.Time `gorm:"not null"`
	ProviderCustomerID string    `gorm:"type:varchar(255)"`
	ProviderItemIDs    []byte    `gorm:"type:jsonb;default:'{}'"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// ToEntity converts the model to a domain entity
func (m *SubscriptionModel) ToEntity() *subscription.Subscription {
	itemIDs := make(map[metering.Capability]string)
	if len(m.ProviderItemIDs) > 0 {
		var raw map[string]string
		if err := json.Unmarshal(m.ProviderItemIDs, &raw); err == nil {
			for k, v := range raw {
				itemIDs[metering.Capability(k)] = v
			}
		}
	}

	return &subscription.Subscription{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		TenantID:           m.TenantID,
		PlanCode:           m.PlanCode,
		Status:             subscription.Status(m.Status),
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		ProviderCustomerID: m.ProviderCustomerID,
		ProviderItemIDs:    itemIDs,
	}
}

// PlanModel is the GORM model for plans
type PlanModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Code      string    `gorm:"type:varchar(50);uniqueIndex;not null"`
	Name      string    `gorm:"type:varchar(100);not null"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (PlanModel) TableName() string {
	return "plans"
}

// PlanAllowanceModel is the GORM model for per-capability plan allowances
type PlanAllowanceModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	PlanCode         string          `gorm:"type:varchar(50);index;not null"`
	Capability       string          `gorm:"type:varchar(20);not null"`
	IncludedLimit    int64           `gorm:"not null"`
	OverageUnitPrice decimal.Decimal `gorm:"type:numeric(12,4);not null;default:0"`
	CreatedAt        time.Time       `gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (PlanAllowanceModel) TableName() string {
	return "plan_allowances"
}

// SubscriptionRepository implements the subscription.Repository interface
type SubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

var _ subscription.Repository = (*SubscriptionRepository)(nil)

// meteredStatuses are the subscription states in which usage accrues
var meteredStatuses = []string{
	string(subscription.StatusActive),
	string(subscription.StatusPastDue),
}

// FindActiveByTenant returns the tenant's active subscription, or nil
// when the tenant has none
func (r *SubscriptionRepository) FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error) {
	var model SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ?", tenantID, meteredStatuses).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindAllActive returns every active subscription
func (r *SubscriptionRepository) FindAllActive(ctx context.Context) ([]*subscription.Subscription, error) {
	var models []SubscriptionModel
	err := r.db.WithContext(ctx).
		Where("status IN ?", meteredStatuses).
		Order("tenant_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	subs := make([]*subscription.Subscription, len(models))
	for i := range models {
		subs[i] = models[i].ToEntity()
	}
	return subs, nil
}

// FindPlanByCode returns the plan with its allowances, or nil when no
// such plan exists
func (r *SubscriptionRepository) FindPlanByCode(ctx context.Context, code string) (*subscription.Plan, error) {
	var planModel PlanModel
	err := r.db.WithContext(ctx).First(&planModel, "code = ?", code).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	var allowanceModels []PlanAllowanceModel
	err = r.db.WithContext(ctx).
		Where("plan_code = ?", code).
		Order("capability ASC").
		Find(&allowanceModels).Error
	if err != nil {
		return nil, err
	}

	allowances := make([]subscription.CapabilityAllowance, 0, len(allowanceModels))
	for _, a := range allowanceModels {
		capability, err := metering.ParseCapability(a.Capability)
		if err != nil {
			continue // unknown capability rows are skipped, not fatal
		}
		allowances = append(allowances, subscription.CapabilityAllowance{
			Capability:       capability,
			IncludedLimit:    a.IncludedLimit,
			OverageUnitPrice: a.OverageUnitPrice,
		})
	}

	return &subscription.Plan{
		BaseEntity: shared.BaseEntity{
			ID:        planModel.ID,
			CreatedAt: planModel.CreatedAt,
			UpdatedAt: planModel.UpdatedAt,
		},
		Code:       planModel.Code,
		Name:       planModel.Name,
		Allowances: allowances,
		IsActive:   planModel.IsActive,
	}, nil
}
