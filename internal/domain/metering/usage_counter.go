package metering

import (
	"time"

	"github.com/google/uuid"
	"github.com/usagehq/metering/internal/domain/shared"
)

// UsageCounter is the mutable aggregate holding the running usage count
// for one (tenant, capability, billing period). It is the fast read path
// for quota math; the event ledger remains authoritative and the
// reconciler restores the count when the two diverge.
type UsageCounter struct {
	shared.BaseEntity
	TenantID    uuid.UUID  // The tenant this counter belongs to
	Capability  Capability // Billable agent category
	PeriodStart time.Time  // Start of the billing period (inclusive)
	PeriodEnd   time.Time  // End of the billing period (exclusive)
	Count       int64      // Running usage total, never negative
	LastEventAt *time.Time // When the most recent event was recorded
}

// NewUsageCounter creates a zeroed counter for a billing period
func NewUsageCounter(
	tenantID uuid.UUID,
	capability Capability,
	periodStart, periodEnd time.Time,
) (*UsageCounter, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !capability.IsValid() {
		return nil, shared.NewDomainError("INVALID_CAPABILITY", "Invalid capability")
	}
	if !periodEnd.After(periodStart) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period end must be after period start")
	}

	return &UsageCounter{
		BaseEntity:  shared.NewBaseEntity(),
		TenantID:    tenantID,
		Capability:  capability,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Count:       0,
	}, nil
}

// Overage returns the usage beyond the given plan limit, never negative
func (c *UsageCounter) Overage(limit int64) int64 {
	if limit < 0 {
		return 0 // unlimited
	}
	overage := c.Count - limit
	if overage < 0 {
		return 0
	}
	return overage
}

// Percentage returns the integer percentage of the limit consumed,
// truncated toward zero. A negative limit means unlimited and reports
// zero. Any usage against a zero limit is fully over it and reports
// 100.
func (c *UsageCounter) Percentage(limit int64) int {
	if limit < 0 {
		return 0
	}
	if limit == 0 {
		if c.Count > 0 {
			return 100
		}
		return 0
	}
	return int(c.Count * 100 / limit)
}

// Covers returns true if the given time falls inside this counter's
// billing period
func (c *UsageCounter) Covers(t time.Time) bool {
	return !t.Before(c.PeriodStart) && t.Before(c.PeriodEnd)
}

// Drift describes the discrepancy between the authoritative ledger sum
// and the cached count for one counter.
type Drift struct {
	Actual   int64   // Ledger sum of matching event quantities
	Cached   int64   // Counter value at measurement time
	Absolute int64   // |Actual - Cached|
	Percent  float64 // Absolute / Actual * 100; see MeasureDrift for the zero guard
}

// MeasureDrift computes the drift between the ledger sum and this
// counter's cached count. When the ledger sum is zero, a zero cached
// count is zero drift and any non-zero cached count counts as 100%.
func (c *UsageCounter) MeasureDrift(actual int64) Drift {
	d := Drift{Actual: actual, Cached: c.Count}
	d.Absolute = actual - c.Count
	if d.Absolute < 0 {
		d.Absolute = -d.Absolute
	}

	switch {
	case actual == 0 && c.Count == 0:
		d.Percent = 0
	case actual == 0:
		d.Percent = 100
	default:
		d.Percent = float64(d.Absolute) / float64(actual) * 100
	}
	return d
}

// IsZero returns true when the ledger and the counter agree
func (d Drift) IsZero() bool {
	return d.Absolute == 0
}
