// Package billing integrates with the external billing provider for
// overage reporting. The Provider interface is implemented by the
// Stripe adapter; services depend on the interface so tests can swap in
// a fake.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Overage reports always use the absolute "set" action: retransmitting
// the same total is harmless, while "increment" would double-bill on
// retry.
const ActionSet = "set"

// OverageReportInput contains input for reporting overage to the
// billing provider
type OverageReportInput struct {
	TenantID           uuid.UUID // The tenant this overage belongs to
	SubscriptionItemID string    // Provider subscription item ID (si_xxx)
	Quantity           int64     // Absolute overage total for the period
	Timestamp          time.Time // When the overage was measured
	IdempotencyKey     string    // Deduplication key for the provider call
}

// OverageReportOutput contains the result of a provider report
type OverageReportOutput struct {
	ProviderRecordID   string
	SubscriptionItemID string
	Quantity           int64
	Timestamp          time.Time
}

// Provider is the outbound port to the external billing system
type Provider interface {
	// ReportOverage submits an absolute overage total for one
	// subscription item
	ReportOverage(ctx context.Context, input OverageReportInput) (*OverageReportOutput, error)
}

// ProviderError wraps a failure from the billing provider. Transient
// marks failures worth retrying (timeouts, 5xx, rate limits).
type ProviderError struct {
	Operation string
	Transient bool
	Err       error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	return fmt.Sprintf("billing provider %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a provider error worth retrying
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
