package metering

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ConfigurationError indicates a billable event arrived for a tenant
// that has no active subscription. Nothing is written; the caller must
// fix provisioning before usage can be metered.
type ConfigurationError struct {
	TenantID uuid.UUID
	Message  string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return e.Message
}

// HTTPStatusCode returns the HTTP status code for this error (422 Unprocessable Entity)
func (e *ConfigurationError) HTTPStatusCode() int {
	return http.StatusUnprocessableEntity
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(tenantID uuid.UUID) *ConfigurationError {
	return &ConfigurationError{
		TenantID: tenantID,
		Message:  fmt.Sprintf("No active subscription for tenant %s", tenantID),
	}
}

// NoSubscriptionError indicates a usage query for a tenant without an
// active subscription
type NoSubscriptionError struct {
	TenantID uuid.UUID
}

// Error implements the error interface
func (e *NoSubscriptionError) Error() string {
	return fmt.Sprintf("No active subscription found for tenant %s", e.TenantID)
}

// HTTPStatusCode returns the HTTP status code for this error (404 Not Found)
func (e *NoSubscriptionError) HTTPStatusCode() int {
	return http.StatusNotFound
}

// ErrCircuitOpen is returned when the overage run's circuit breaker has
// tripped and the remainder of the run is aborted
var ErrCircuitOpen = errors.New("circuit breaker open: aborting overage run")
