package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/shared"
)

// Status represents the lifecycle state of a subscription
type Status string

const (
	// StatusActive marks a subscription currently in good standing
	StatusActive Status = "ACTIVE"

	// StatusPastDue marks a subscription with an unpaid invoice; usage
	// is still metered
	StatusPastDue Status = "PAST_DUE"

	// StatusCanceled marks a subscription that has ended
	StatusCanceled Status = "CANCELED"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// Subscription ties a tenant to a plan for a rolling billing period.
// The period anchor advances monthly; CurrentPeriodStart and
// CurrentPeriodEnd bound the period usage counters are keyed on.
type Subscription struct {
	shared.BaseEntity
	TenantID           uuid.UUID
	PlanCode           string
	Status             Status
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	// ProviderCustomerID and ProviderItemIDs reference the external
	// billing provider's objects for overage reporting. ProviderItemIDs
	// maps each capability to its metered subscription item.
	ProviderCustomerID string
	ProviderItemIDs    map[metering.Capability]string
}

// NewSubscription creates an active subscription starting its first
// billing period at periodStart
func NewSubscription(
	tenantID uuid.UUID,
	planCode string,
	periodStart, periodEnd time.Time,
) (*Subscription, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if planCode == "" {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan code cannot be empty")
	}
	if !periodEnd.After(periodStart) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period end must be after period start")
	}

	return &Subscription{
		BaseEntity:         shared.NewBaseEntity(),
		TenantID:           tenantID,
		PlanCode:           planCode,
		Status:             StatusActive,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		ProviderItemIDs:    make(map[metering.Capability]string),
	}, nil
}

// WithProviderRefs sets the external billing provider references
func (s *Subscription) WithProviderRefs(customerID string, itemIDs map[metering.Capability]string) *Subscription {
	s.ProviderCustomerID = customerID
	if itemIDs != nil {
		s.ProviderItemIDs = itemIDs
	}
	return s
}

// IsActive returns true when usage should be metered against this
// subscription. Past-due tenants keep accruing usage.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusPastDue
}

// ProviderItemID returns the billing provider item for a capability,
// with ok=false when the capability has no metered item
func (s *Subscription) ProviderItemID(capability metering.Capability) (string, bool) {
	id, ok := s.ProviderItemIDs[capability]
	return id, ok && id != ""
}

// AdvancePeriod moves the billing period forward one month from its
// current anchor. Called by the billing system at rollover; exposed
// here so tests can model rollover behavior.
func (s *Subscription) AdvancePeriod() {
	s.CurrentPeriodStart = s.CurrentPeriodEnd
	s.CurrentPeriodEnd = s.CurrentPeriodEnd.AddDate(0, 1, 0)
	s.UpdatedAt = time.Now()
}

// Cancel ends the subscription
func (s *Subscription) Cancel() {
	s.Status = StatusCanceled
	s.UpdatedAt = time.Now()
}
