package metering

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/usagehq/metering/internal/domain/shared"
)

// IdempotencyBucket is the coarse timestamp bucket used when deriving
// idempotency keys. A retried producer call within the same bucket for the
// same logical action collapses to a single stored event.
const IdempotencyBucket = time.Hour

// UsageEvent represents an immutable record of a single billable action.
// Once created, events cannot be modified - corrections must be made with
// new events. This ensures a complete audit trail for reconciliation.
type UsageEvent struct {
	shared.BaseEntity
	TenantID       uuid.UUID  // The tenant this usage belongs to
	Capability     Capability // Billable agent category
	ActionType     ActionType // Kind of billable action
	ResourceID     string     // Back-reference to the processed resource (optional)
	Quantity       int64      // Amount of usage (always positive, default 1)
	IdempotencyKey string     // Globally unique deduplication key
	Metadata       Metadata   // Additional context about the event
	RecordedAt     time.Time  // When the action occurred
}

// Metadata holds additional context about a usage event
type Metadata map[string]any

// NewUsageEvent creates a new usage event with validation. The idempotency
// key is derived deterministically from the producer-supplied identifiers
// so at-least-once callers collapse to one effect.
func NewUsageEvent(
	tenantID uuid.UUID,
	capability Capability,
	actionType ActionType,
	resourceID string,
	quantity int64,
) (*UsageEvent, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !capability.IsValid() {
		return nil, shared.NewDomainError("INVALID_CAPABILITY", "Invalid capability")
	}
	if !actionType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ACTION_TYPE", "Invalid action type")
	}
	if !actionType.AllowedFor(capability) {
		return nil, shared.NewDomainError("ACTION_NOT_ALLOWED",
			fmt.Sprintf("Action %s is not billable for capability %s", actionType, capability))
	}
	if quantity <= 0 {
		quantity = 1
	}

	now := time.Now().UTC()
	return &UsageEvent{
		BaseEntity:     shared.NewBaseEntity(),
		TenantID:       tenantID,
		Capability:     capability,
		ActionType:     actionType,
		ResourceID:     resourceID,
		Quantity:       quantity,
		IdempotencyKey: DeriveIdempotencyKey(tenantID, capability, actionType, resourceID, now),
		Metadata:       make(Metadata),
		RecordedAt:     now,
	}, nil
}

// WithMetadata adds metadata to the usage event
func (e *UsageEvent) WithMetadata(key string, value any) *UsageEvent {
	if e.Metadata == nil {
		e.Metadata = make(Metadata)
	}
	e.Metadata[key] = value
	return e
}

// WithRecordedAt sets a custom recorded time and re-derives the
// idempotency key for the new time bucket (useful for backfills)
func (e *UsageEvent) WithRecordedAt(recordedAt time.Time) *UsageEvent {
	e.RecordedAt = recordedAt
	e.IdempotencyKey = DeriveIdempotencyKey(e.TenantID, e.Capability, e.ActionType, e.ResourceID, recordedAt)
	return e
}

// InPeriod returns true if the event falls within [periodStart, periodEnd)
func (e *UsageEvent) InPeriod(periodStart, periodEnd time.Time) bool {
	return !e.RecordedAt.Before(periodStart) && e.RecordedAt.Before(periodEnd)
}

// DeriveIdempotencyKey builds the deterministic deduplication key for a
// billable action. When the producer supplies no resource ID there is
// nothing stable to deduplicate on, so a fresh UUID takes its place and
// each call records a distinct event.
//
// Format: tenant:capability:action:resource:bucket_unix
func DeriveIdempotencyKey(
	tenantID uuid.UUID,
	capability Capability,
	actionType ActionType,
	resourceID string,
	at time.Time,
) string {
	if resourceID == "" {
		resourceID = uuid.NewString()
	}
	bucket := at.UTC().Truncate(IdempotencyBucket)
	return fmt.Sprintf("%s:%s:%s:%s:%d",
		tenantID.String(),
		capability.String(),
		actionType.String(),
		resourceID,
		bucket.Unix(),
	)
}
