package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	appmetering "github.com/usagehq/metering/internal/application/metering"
)

// MeteringMetrics exposes the metering pipeline's counters over
// OpenTelemetry. It implements the application layer's Metrics port.
type MeteringMetrics struct {
	logger *zap.Logger

	eventsRecorded       *Counter
	duplicateEvents      *Counter
	configurationErrors  *Counter
	reconcileCorrections *Counter
	driftAlerts          *Counter
	overageReports       *Counter
	breakerTrips         *Counter
}

var _ appmetering.Metrics = (*MeteringMetrics)(nil)

// NewMeteringMetrics creates the metering counter set on the given meter
func NewMeteringMetrics(meter metric.Meter, logger *zap.Logger) (*MeteringMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &MeteringMetrics{logger: logger}

	var err error

	m.eventsRecorded, err = NewCounter(
		meter,
		"metering_events_recorded_total",
		"Total number of usage events accepted into the ledger",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	m.duplicateEvents, err = NewCounter(
		meter,
		"metering_duplicate_events_total",
		"Total number of usage events collapsed by idempotency key",
		"{events}",
	)
	if err != nil {
		return nil, err
	}

	m.configurationErrors, err = NewCounter(
		meter,
		"metering_configuration_errors_total",
		"Total number of events rejected for missing subscriptions",
		"{errors}",
	)
	if err != nil {
		return nil, err
	}

	m.reconcileCorrections, err = NewCounter(
		meter,
		"metering_reconcile_corrections_total",
		"Total number of counter values corrected from the ledger",
		"{corrections}",
	)
	if err != nil {
		return nil, err
	}

	m.driftAlerts, err = NewCounter(
		meter,
		"metering_drift_alerts_total",
		"Total number of drift alerts raised instead of auto-correcting",
		"{alerts}",
	)
	if err != nil {
		return nil, err
	}

	m.overageReports, err = NewCounter(
		meter,
		"metering_overage_reports_total",
		"Total number of overage report attempts by status",
		"{reports}",
	)
	if err != nil {
		return nil, err
	}

	m.breakerTrips, err = NewCounter(
		meter,
		"metering_circuit_breaker_trips_total",
		"Total number of overage runs aborted by the circuit breaker",
		"{trips}",
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// EventRecorded counts an accepted usage event
func (m *MeteringMetrics) EventRecorded(ctx context.Context, capability string, quantity int64) {
	m.eventsRecorded.Add(ctx, quantity, AttrCapability.String(capability))
}

// DuplicateCollapsed counts an event collapsed by its idempotency key
func (m *MeteringMetrics) DuplicateCollapsed(ctx context.Context, capability string) {
	m.duplicateEvents.Inc(ctx, AttrCapability.String(capability))
}

// ConfigurationErrorHit counts an event rejected for a missing subscription
func (m *MeteringMetrics) ConfigurationErrorHit(ctx context.Context) {
	m.configurationErrors.Inc(ctx)
}

// ReconcileCorrection counts a counter corrected from the ledger
func (m *MeteringMetrics) ReconcileCorrection(ctx context.Context) {
	m.reconcileCorrections.Inc(ctx)
}

// DriftAlert counts a drift alert raised for manual review
func (m *MeteringMetrics) DriftAlert(ctx context.Context) {
	m.driftAlerts.Inc(ctx)
}

// OverageReport counts a provider report attempt with its outcome
func (m *MeteringMetrics) OverageReport(ctx context.Context, status string) {
	m.overageReports.Inc(ctx, AttrStatus.String(status))
}

// BreakerTripped counts an overage run aborted by the circuit breaker
func (m *MeteringMetrics) BreakerTripped(ctx context.Context) {
	m.breakerTrips.Inc(ctx)
}
