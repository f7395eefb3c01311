package metering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/subscription"
)

// ReconcileConfig holds the drift thresholds
type ReconcileConfig struct {
	// MaxAutoCorrectPercent is the relative drift above which correction
	// requires human review instead of an automatic write
	MaxAutoCorrectPercent float64

	// AbsoluteDriftFloor is the unit drift below which correction is
	// always automatic, regardless of percentage. Relative thresholds
	// are meaningless at low volume: 1 missed event out of 3 is 33%.
	AbsoluteDriftFloor int64
}

// DefaultReconcileConfig returns the default drift thresholds
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		MaxAutoCorrectPercent: 5.0,
		AbsoluteDriftFloor:    10,
	}
}

// DriftAlert reports a counter whose drift exceeded the auto-correct
// threshold. The counter is left untouched for investigation.
type DriftAlert struct {
	TenantID    string
	Capability  string
	PeriodStart time.Time
	Actual      int64
	Cached      int64
	Percent     float64
}

// ReconcileRunResult summarizes one reconciler run
type ReconcileRunResult struct {
	CountersChecked int
	Corrections     int
	Alerts          []DriftAlert
	Failures        int
	Duration        time.Duration
}

// ReconcileService restores the counter cache from the event ledger.
// For each counter it recomputes the ledger sum in one snapshot read and
// compares it to the cached count; small drift is corrected in place,
// large drift raises an alert and is left for a human.
type ReconcileService struct {
	eventRepo   domain.UsageEventRepository
	counterRepo domain.UsageCounterRepository
	subRepo     subscription.Repository
	metrics     Metrics
	logger      *zap.Logger
	config      ReconcileConfig
}

// NewReconcileService creates a new ReconcileService
func NewReconcileService(
	eventRepo domain.UsageEventRepository,
	counterRepo domain.UsageCounterRepository,
	subRepo subscription.Repository,
	metrics Metrics,
	logger *zap.Logger,
	config ReconcileConfig,
) *ReconcileService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &ReconcileService{
		eventRepo:   eventRepo,
		counterRepo: counterRepo,
		subRepo:     subRepo,
		metrics:     metrics,
		logger:      logger,
		config:      config,
	}
}

// ReconcileAll checks every counter in every active subscription's
// current period. Per-counter failures are logged and counted without
// aborting the run.
func (s *ReconcileService) ReconcileAll(ctx context.Context) (*ReconcileRunResult, error) {
	start := time.Now()
	result := &ReconcileRunResult{}

	subs, err := s.subRepo.FindAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active subscriptions: %w", err)
	}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}

		counters, err := s.counterRepo.FindAllByTenantAndPeriod(ctx, sub.TenantID, sub.CurrentPeriodStart)
		if err != nil {
			result.Failures++
			s.logger.Error("failed to load counters for reconciliation",
				zap.String("tenant_id", sub.TenantID.String()),
				zap.Error(err))
			continue
		}

		for _, counter := range counters {
			result.CountersChecked++
			if err := s.reconcileCounter(ctx, counter, result); err != nil {
				result.Failures++
				s.logger.Error("failed to reconcile counter",
					zap.String("tenant_id", counter.TenantID.String()),
					zap.String("capability", counter.Capability.String()),
					zap.Error(err))
			}
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info("reconciliation completed",
		zap.Int("checked", result.CountersChecked),
		zap.Int("corrections", result.Corrections),
		zap.Int("alerts", len(result.Alerts)),
		zap.Int("failures", result.Failures),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// reconcileCounter compares one counter against the ledger. The ledger
// sum is a single snapshot read; events recorded after it are the next
// run's business and are not treated as drift by re-reading.
func (s *ReconcileService) reconcileCounter(ctx context.Context, counter *domain.UsageCounter, result *ReconcileRunResult) error {
	actual, err := s.eventRepo.SumForPeriod(ctx, counter.TenantID, counter.Capability, counter.PeriodStart, counter.PeriodEnd)
	if err != nil {
		return fmt.Errorf("summing ledger: %w", err)
	}

	drift := counter.MeasureDrift(actual)
	if drift.IsZero() {
		return nil
	}

	if s.shouldAutoCorrect(drift) {
		if err := s.counterRepo.SetCount(ctx, counter.ID, actual); err != nil {
			return fmt.Errorf("correcting counter: %w", err)
		}
		result.Corrections++
		s.metrics.ReconcileCorrection(ctx)
		s.logger.Info("counter drift corrected",
			zap.String("tenant_id", counter.TenantID.String()),
			zap.String("capability", counter.Capability.String()),
			zap.Int64("cached", drift.Cached),
			zap.Int64("actual", drift.Actual),
			zap.Float64("drift_percent", drift.Percent))
		return nil
	}

	alert := DriftAlert{
		TenantID:    counter.TenantID.String(),
		Capability:  counter.Capability.String(),
		PeriodStart: counter.PeriodStart,
		Actual:      drift.Actual,
		Cached:      drift.Cached,
		Percent:     drift.Percent,
	}
	result.Alerts = append(result.Alerts, alert)
	s.metrics.DriftAlert(ctx)
	s.logger.Error("counter drift exceeds auto-correct threshold",
		zap.String("tenant_id", alert.TenantID),
		zap.String("capability", alert.Capability),
		zap.Int64("cached", drift.Cached),
		zap.Int64("actual", drift.Actual),
		zap.Float64("drift_percent", drift.Percent))
	return nil
}

func (s *ReconcileService) shouldAutoCorrect(drift domain.Drift) bool {
	if drift.Absolute <= s.config.AbsoluteDriftFloor {
		return true
	}
	return drift.Percent < s.config.MaxAutoCorrectPercent
}
