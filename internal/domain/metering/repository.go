package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UsageEventRepository defines the interface for usage event persistence.
// Events are append-only: there are no update or delete-by-id operations.
type UsageEventRepository interface {
	// Save persists a usage event. When an event with the same idempotency
	// key already exists the insert is a no-op and the stored event is
	// returned with created=false.
	Save(ctx context.Context, event *UsageEvent) (stored *UsageEvent, created bool, err error)

	// FindByID retrieves a usage event by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*UsageEvent, error)

	// FindByIdempotencyKey retrieves a usage event by its idempotency key,
	// returning nil when no event exists
	FindByIdempotencyKey(ctx context.Context, key string) (*UsageEvent, error)

	// FindByTenantAndPeriod retrieves all events for a tenant and
	// capability recorded within [periodStart, periodEnd)
	FindByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, capability Capability, periodStart, periodEnd time.Time) ([]*UsageEvent, error)

	// SumForPeriod returns the sum of event quantities for a tenant and
	// capability within [periodStart, periodEnd). Returns 0 when there
	// are no matching events.
	SumForPeriod(ctx context.Context, tenantID uuid.UUID, capability Capability, periodStart, periodEnd time.Time) (int64, error)

	// CountForPeriod returns the number of events for a tenant and
	// capability within [periodStart, periodEnd)
	CountForPeriod(ctx context.Context, tenantID uuid.UUID, capability Capability, periodStart, periodEnd time.Time) (int64, error)
}

// LedgerStore executes the recorder's combined write: persist the event
// and increment its period counter in a single transaction. Either both
// writes commit or neither does. A duplicate idempotency key commits
// nothing and returns the previously stored event with created=false.
type LedgerStore interface {
	RecordAtomic(ctx context.Context, event *UsageEvent, periodStart, periodEnd time.Time) (stored *UsageEvent, created bool, err error)
}

// UsageCounterRepository defines the interface for usage counter persistence
type UsageCounterRepository interface {
	// GetOrCreate returns the counter for (tenant, capability, periodStart),
	// creating a zeroed one when it does not exist yet. created reports
	// whether a new row was inserted.
	GetOrCreate(ctx context.Context, counter *UsageCounter) (stored *UsageCounter, created bool, err error)

	// IncrementCount atomically adds delta to the counter's count and
	// stamps LastEventAt. The counter must already exist.
	IncrementCount(ctx context.Context, id uuid.UUID, delta int64, eventAt time.Time) error

	// SetCount overwrites the counter's count, used by reconciliation to
	// restore the ledger-derived value
	SetCount(ctx context.Context, id uuid.UUID, count int64) error

	// FindByTenantAndPeriod retrieves the counter for a tenant, capability
	// and period start, returning nil when no counter exists
	FindByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, capability Capability, periodStart time.Time) (*UsageCounter, error)

	// FindByTenantAndPeriodEnd retrieves the counter for a tenant and
	// capability whose period ends at periodEnd, returning nil when no
	// counter exists. Used to locate a closed period's counter from the
	// succeeding period's start.
	FindByTenantAndPeriodEnd(ctx context.Context, tenantID uuid.UUID, capability Capability, periodEnd time.Time) (*UsageCounter, error)

	// FindAllByTenantAndPeriod retrieves all capability counters for a
	// tenant in the period starting at periodStart
	FindAllByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) ([]*UsageCounter, error)

	// FindAllForPeriod retrieves every counter for the period starting at
	// periodStart, across all tenants
	FindAllForPeriod(ctx context.Context, periodStart time.Time) ([]*UsageCounter, error)
}
