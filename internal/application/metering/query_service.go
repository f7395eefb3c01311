package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/subscription"
)

// Alert levels surfaced by GetUsageStats
const (
	AlertLevelWarning = "warning"
	AlertLevelError   = "error"
)

// WarningThresholdPercent is the usage percentage at which a warning
// alert is raised. At 100% and above the alert escalates to error.
const WarningThresholdPercent = 80

// CapabilityUsageDTO describes one capability's usage within the
// current billing period
type CapabilityUsageDTO struct {
	Capability  string          `json:"capability"`
	DisplayName string          `json:"display_name"`
	Count       int64           `json:"count"`
	Limit       int64           `json:"limit"`
	Percentage  int             `json:"percentage"`
	Overage     int64           `json:"overage"`
	OverageCost decimal.Decimal `json:"overage_cost"`
	Unlimited   bool            `json:"unlimited"`
}

// UsageAlertDTO signals a capability approaching or exceeding its limit
type UsageAlertDTO struct {
	Level       string           `json:"level"`
	Capability  string           `json:"capability"`
	Message     string           `json:"message"`
	OverageCost *decimal.Decimal `json:"overage_cost,omitempty"`
}

// UsageStatsDTO is the full usage report for one tenant
type UsageStatsDTO struct {
	TenantID    uuid.UUID            `json:"tenant_id"`
	PlanCode    string               `json:"plan_code"`
	PeriodStart time.Time            `json:"period_start"`
	PeriodEnd   time.Time            `json:"period_end"`
	Usages      []CapabilityUsageDTO `json:"usages"`
	Alerts      []UsageAlertDTO      `json:"alerts,omitempty"`
}

// QueryService answers "how much has this tenant used" from the counter
// cache. It never touches the event ledger; stale counters are the
// reconciler's problem.
type QueryService struct {
	counterRepo domain.UsageCounterRepository
	subRepo     subscription.Repository
	logger      *zap.Logger
}

// NewQueryService creates a new QueryService
func NewQueryService(
	counterRepo domain.UsageCounterRepository,
	subRepo subscription.Repository,
	logger *zap.Logger,
) *QueryService {
	return &QueryService{
		counterRepo: counterRepo,
		subRepo:     subRepo,
		logger:      logger,
	}
}

// GetUsageStats returns per-capability usage for the tenant's current
// billing period. A capability with no counter row yet reports zero
// usage. Tenants without an active subscription get NoSubscriptionError.
func (s *QueryService) GetUsageStats(ctx context.Context, tenantID uuid.UUID) (*UsageStatsDTO, error) {
	sub, err := s.subRepo.FindActiveByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("looking up subscription: %w", err)
	}
	if sub == nil || !sub.IsActive() {
		return nil, &NoSubscriptionError{TenantID: tenantID}
	}

	plan, err := s.subRepo.FindPlanByCode(ctx, sub.PlanCode)
	if err != nil {
		return nil, fmt.Errorf("looking up plan %s: %w", sub.PlanCode, err)
	}
	if plan == nil {
		return nil, &NoSubscriptionError{TenantID: tenantID}
	}

	counters, err := s.counterRepo.FindAllByTenantAndPeriod(ctx, tenantID, sub.CurrentPeriodStart)
	if err != nil {
		return nil, fmt.Errorf("loading usage counters: %w", err)
	}
	countByCapability := make(map[domain.Capability]int64, len(counters))
	for _, c := range counters {
		countByCapability[c.Capability] = c.Count
	}

	stats := &UsageStatsDTO{
		TenantID:    tenantID,
		PlanCode:    sub.PlanCode,
		PeriodStart: sub.CurrentPeriodStart,
		PeriodEnd:   sub.CurrentPeriodEnd,
	}

	for _, allowance := range plan.Allowances {
		count := countByCapability[allowance.Capability]
		usage := CapabilityUsageDTO{
			Capability:  allowance.Capability.String(),
			DisplayName: allowance.Capability.DisplayName(),
			Count:       count,
			Limit:       allowance.IncludedLimit,
			OverageCost: decimal.Zero,
			Unlimited:   allowance.IsUnlimited(),
		}

		if !allowance.IsUnlimited() {
			switch {
			case allowance.IncludedLimit > 0:
				usage.Percentage = int(count * 100 / allowance.IncludedLimit)
			case count > 0:
				// Zero-quota allowance: any usage is over the limit
				usage.Percentage = 100
			}
		}
		if !allowance.IsUnlimited() {
			if over := count - allowance.IncludedLimit; over > 0 {
				usage.Overage = over
				usage.OverageCost = allowance.OverageCost(over)
			}
		}
		stats.Usages = append(stats.Usages, usage)

		if alert := buildAlert(usage); alert != nil {
			stats.Alerts = append(stats.Alerts, *alert)
		}
	}

	return stats, nil
}

// buildAlert returns the alert for a capability's usage, or nil when
// usage is below the warning threshold or the allowance is unlimited
func buildAlert(usage CapabilityUsageDTO) *UsageAlertDTO {
	if usage.Unlimited || usage.Percentage < WarningThresholdPercent {
		return nil
	}

	if usage.Percentage >= 100 {
		cost := usage.OverageCost
		return &UsageAlertDTO{
			Level:      AlertLevelError,
			Capability: usage.Capability,
			Message: fmt.Sprintf("%s usage is at %d%% of the included limit (%d of %d); overage of %d units will be billed",
				usage.DisplayName, usage.Percentage, usage.Count, usage.Limit, usage.Overage),
			OverageCost: &cost,
		}
	}

	return &UsageAlertDTO{
		Level:      AlertLevelWarning,
		Capability: usage.Capability,
		Message: fmt.Sprintf("%s usage is at %d%% of the included limit (%d of %d)",
			usage.DisplayName, usage.Percentage, usage.Count, usage.Limit),
	}
}
