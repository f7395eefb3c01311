package metering

import "context"

// Metrics receives counter increments from the metering services. The
// OpenTelemetry implementation lives in infrastructure/telemetry; tests
// and metric-less deployments use NopMetrics.
type Metrics interface {
	EventRecorded(ctx context.Context, capability string, quantity int64)
	DuplicateCollapsed(ctx context.Context, capability string)
	ConfigurationErrorHit(ctx context.Context)
	ReconcileCorrection(ctx context.Context)
	DriftAlert(ctx context.Context)
	OverageReport(ctx context.Context, status string)
	BreakerTripped(ctx context.Context)
}

// NopMetrics discards all metric increments
type NopMetrics struct{}

func (NopMetrics) EventRecorded(context.Context, string, int64) {}
func (NopMetrics) DuplicateCollapsed(context.Context, string)   {}
func (NopMetrics) ConfigurationErrorHit(context.Context)        {}
func (NopMetrics) ReconcileCorrection(context.Context)          {}
func (NopMetrics) DriftAlert(context.Context)                   {}
func (NopMetrics) OverageReport(context.Context, string)        {}
func (NopMetrics) BreakerTripped(context.Context)               {}

var _ Metrics = NopMetrics{}
