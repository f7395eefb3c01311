// Package subscription models the billing configuration the metering
// engine reads: which plan a tenant is on, what each capability's
// included allowance is, and what overage units cost. The engine never
// mutates subscriptions; they are owned by the billing system.
package subscription

import (
	"github.com/shopspring/decimal"
	"github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/shared"
)

// UnlimitedAllowance marks a capability with no included-usage cap
const UnlimitedAllowance int64 = -1

// CapabilityAllowance defines the included usage and overage pricing
// for one capability within a plan
type CapabilityAllowance struct {
	Capability       metering.Capability
	IncludedLimit    int64           // Included units per period, UnlimitedAllowance for no cap
	OverageUnitPrice decimal.Decimal // Price per unit beyond the included limit
}

// IsUnlimited returns true if this allowance has no included-usage cap
func (a CapabilityAllowance) IsUnlimited() bool {
	return a.IncludedLimit == UnlimitedAllowance
}

// OverageCost returns the cost of the given overage units
func (a CapabilityAllowance) OverageCost(units int64) decimal.Decimal {
	if units <= 0 {
		return decimal.Zero
	}
	return a.OverageUnitPrice.Mul(decimal.NewFromInt(units))
}

// Plan defines a purchasable tier: a set of per-capability allowances
type Plan struct {
	shared.BaseEntity
	Code       string // Stable plan identifier (e.g. "starter", "growth", "scale")
	Name       string // Human-readable plan name
	Allowances []CapabilityAllowance
	IsActive   bool
}

// NewPlan creates a plan with the given allowances
func NewPlan(code, name string, allowances []CapabilityAllowance) (*Plan, error) {
	if code == "" {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan code cannot be empty")
	}
	seen := make(map[metering.Capability]bool, len(allowances))
	for _, a := range allowances {
		if !a.Capability.IsValid() {
			return nil, shared.NewDomainError("INVALID_CAPABILITY", "Invalid capability in plan allowance")
		}
		if a.IncludedLimit < UnlimitedAllowance {
			return nil, shared.NewDomainError("INVALID_LIMIT", "Included limit must be -1 (unlimited) or non-negative")
		}
		if a.OverageUnitPrice.IsNegative() {
			return nil, shared.NewDomainError("INVALID_PRICE", "Overage unit price cannot be negative")
		}
		if seen[a.Capability] {
			return nil, shared.NewDomainError("DUPLICATE_ALLOWANCE", "Plan defines the same capability twice")
		}
		seen[a.Capability] = true
	}

	return &Plan{
		BaseEntity: shared.NewBaseEntity(),
		Code:       code,
		Name:       name,
		Allowances: allowances,
		IsActive:   true,
	}, nil
}

// AllowanceFor returns the allowance for the given capability, or nil
// when the plan does not cover it
func (p *Plan) AllowanceFor(capability metering.Capability) *CapabilityAllowance {
	for i := range p.Allowances {
		if p.Allowances[i].Capability == capability {
			return &p.Allowances[i]
		}
	}
	return nil
}
