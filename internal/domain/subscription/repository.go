package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines read access to subscriptions and plans. The
// metering engine is a consumer of billing configuration, not its
// owner, so the contract is read-only.
type Repository interface {
	// FindActiveByTenant returns the tenant's active subscription, or
	// nil when the tenant has none
	FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)

	// FindAllActive returns every active subscription
	FindAllActive(ctx context.Context) ([]*Subscription, error)

	// FindPlanByCode returns the plan with the given code, or nil when
	// no such plan exists
	FindPlanByCode(ctx context.Context, code string) (*Plan, error)
}
