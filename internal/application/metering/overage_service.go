package metering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/shared"
	"github.com/usagehq/metering/internal/domain/subscription"
	"github.com/usagehq/metering/internal/infrastructure/billing"
)

// OverageConfig controls the overage reporter
type OverageConfig struct {
	Retry            RetryPolicy
	BreakerThreshold int           // Consecutive failures before the run aborts
	DedupTTL         time.Duration // How long an identical report is suppressed
}

// DefaultOverageConfig returns the default reporter configuration
func DefaultOverageConfig() OverageConfig {
	return OverageConfig{
		Retry:            DefaultRetryPolicy(),
		BreakerThreshold: 5,
		DedupTTL:         20 * time.Hour,
	}
}

// OverageRunResult summarizes one reporting run
type OverageRunResult struct {
	Reported int // Reports delivered to the provider
	Skipped  int // No overage, no provider item, or unchanged since last report
	Failed   int // Reports exhausted after retries
	Aborted  bool
	Duration time.Duration
}

// OverageService reports each counter's overage to the billing provider
// as an absolute total. Totals are safe to retransmit; the provider
// applies them with "set" semantics so a retry never double-bills.
type OverageService struct {
	counterRepo domain.UsageCounterRepository
	subRepo     subscription.Repository
	provider    billing.Provider
	logRepo     billing.ReportLogRepository
	dedup       shared.IdempotencyStore
	metrics     Metrics
	logger      *zap.Logger
	config      OverageConfig
}

// NewOverageService creates a new OverageService
func NewOverageService(
	counterRepo domain.UsageCounterRepository,
	subRepo subscription.Repository,
	provider billing.Provider,
	logRepo billing.ReportLogRepository,
	dedup shared.IdempotencyStore,
	metrics Metrics,
	logger *zap.Logger,
	config OverageConfig,
) *OverageService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &OverageService{
		counterRepo: counterRepo,
		subRepo:     subRepo,
		provider:    provider,
		logRepo:     logRepo,
		dedup:       dedup,
		metrics:     metrics,
		logger:      logger,
		config:      config,
	}
}

// ReportAll reports current-period overage for every active
// subscription. The circuit breaker is scoped to this run: after
// BreakerThreshold consecutive exhausted failures the remainder of the
// run is aborted and ErrCircuitOpen returned alongside the partial
// result.
func (s *OverageService) ReportAll(ctx context.Context) (*OverageRunResult, error) {
	start := time.Now()
	result := &OverageRunResult{}
	breaker := NewCircuitBreaker(s.config.BreakerThreshold)

	subs, err := s.subRepo.FindAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active subscriptions: %w", err)
	}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		if err := s.reportTenant(ctx, sub, s.currentPeriodCounter(sub), breaker, result); err != nil {
			result.Aborted = true
			result.Duration = time.Since(start)
			s.finishRun(ctx, result)
			return result, err
		}
	}

	result.Duration = time.Since(start)
	s.finishRun(ctx, result)
	return result, nil
}

// ReportClosedPeriods reports final overage totals for subscriptions
// whose billing period rolled over after since. The previous period's
// counters hold the closing totals.
func (s *OverageService) ReportClosedPeriods(ctx context.Context, since time.Time) (*OverageRunResult, error) {
	start := time.Now()
	result := &OverageRunResult{}
	breaker := NewCircuitBreaker(s.config.BreakerThreshold)

	subs, err := s.subRepo.FindAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active subscriptions: %w", err)
	}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		// Rolled over since the last run
		if !sub.CurrentPeriodStart.After(since) {
			continue
		}
		if err := s.reportTenant(ctx, sub, s.closedPeriodCounter(sub), breaker, result); err != nil {
			result.Aborted = true
			result.Duration = time.Since(start)
			s.finishRun(ctx, result)
			return result, err
		}
	}

	result.Duration = time.Since(start)
	s.finishRun(ctx, result)
	return result, nil
}

func (s *OverageService) finishRun(ctx context.Context, result *OverageRunResult) {
	s.logger.Info("overage reporting run finished",
		zap.Int("reported", result.Reported),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Bool("aborted", result.Aborted),
		zap.Duration("duration", result.Duration))
}

// counterLookup resolves one capability's counter for a subscription
type counterLookup func(ctx context.Context, capability domain.Capability) (*domain.UsageCounter, error)

// currentPeriodCounter finds counters by the subscription's current
// period start
func (s *OverageService) currentPeriodCounter(sub *subscription.Subscription) counterLookup {
	return func(ctx context.Context, capability domain.Capability) (*domain.UsageCounter, error) {
		return s.counterRepo.FindByTenantAndPeriod(ctx, sub.TenantID, capability, sub.CurrentPeriodStart)
	}
}

// closedPeriodCounter finds the counter whose period ended exactly
// where the current period begins. Month-end anchors shift at rollover
// (a Jan 31 anchor yields a period ending Mar 3), so the closed
// period's start cannot be reconstructed by subtracting a month from
// the current anchor; only the period_end boundary is exact.
func (s *OverageService) closedPeriodCounter(sub *subscription.Subscription) counterLookup {
	return func(ctx context.Context, capability domain.Capability) (*domain.UsageCounter, error) {
		return s.counterRepo.FindByTenantAndPeriodEnd(ctx, sub.TenantID, capability, sub.CurrentPeriodStart)
	}
}

func (s *OverageService) reportTenant(
	ctx context.Context,
	sub *subscription.Subscription,
	lookup counterLookup,
	breaker *CircuitBreaker,
	result *OverageRunResult,
) error {
	plan, err := s.subRepo.FindPlanByCode(ctx, sub.PlanCode)
	if err != nil || plan == nil {
		result.Failed++
		s.logger.Error("cannot resolve plan for overage reporting",
			zap.String("tenant_id", sub.TenantID.String()),
			zap.String("plan_code", sub.PlanCode),
			zap.Error(err))
		return nil
	}

	for _, allowance := range plan.Allowances {
		if allowance.IsUnlimited() {
			result.Skipped++
			continue
		}
		counter, err := lookup(ctx, allowance.Capability)
		if err != nil {
			result.Failed++
			s.logger.Error("failed to load counter for overage reporting",
				zap.String("tenant_id", sub.TenantID.String()),
				zap.String("capability", allowance.Capability.String()),
				zap.Error(err))
			continue
		}
		overage := int64(0)
		if counter != nil {
			overage = counter.Overage(allowance.IncludedLimit)
		}
		if overage == 0 {
			result.Skipped++
			continue
		}

		itemID, ok := sub.ProviderItemID(allowance.Capability)
		if !ok {
			result.Skipped++
			s.logger.Warn("no provider item for capability, skipping overage report",
				zap.String("tenant_id", sub.TenantID.String()),
				zap.String("capability", allowance.Capability.String()))
			continue
		}

		if err := s.submit(ctx, sub, allowance.Capability, itemID, overage, counter.PeriodStart, breaker, result); err != nil {
			return err
		}
	}
	return nil
}

// submit delivers one overage total with retries. Returns ErrCircuitOpen
// when this failure tripped the run's breaker.
func (s *OverageService) submit(
	ctx context.Context,
	sub *subscription.Subscription,
	capability domain.Capability,
	itemID string,
	overage int64,
	periodStart time.Time,
	breaker *CircuitBreaker,
	result *OverageRunResult,
) error {
	idempotencyKey := fmt.Sprintf("overage:%s:%s:%d:%d",
		sub.TenantID, capability, periodStart.Unix(), overage)

	// Unchanged totals within the dedup window are suppressed. The
	// provider applies "set" semantics so retransmission would be
	// harmless, just noisy.
	if s.dedup != nil {
		fresh, err := s.dedup.MarkProcessed(ctx, idempotencyKey, s.config.DedupTTL)
		if err != nil {
			s.logger.Warn("report dedup store unavailable, reporting anyway", zap.Error(err))
		} else if !fresh {
			result.Skipped++
			return nil
		}
	}

	reportLog := billing.NewOverageReportLog(sub.TenantID, capability.String(), itemID, overage, periodStart)
	if err := s.logRepo.Save(ctx, reportLog); err != nil {
		s.logger.Error("failed to persist report log", zap.Error(err))
	}

	var output *billing.OverageReportOutput
	attempts := 0
	err := s.config.Retry.Do(ctx, func() error {
		attempts++
		var callErr error
		output, callErr = s.provider.ReportOverage(ctx, billing.OverageReportInput{
			TenantID:           sub.TenantID,
			SubscriptionItemID: itemID,
			Quantity:           overage,
			Timestamp:          time.Now(),
			IdempotencyKey:     idempotencyKey,
		})
		return callErr
	})

	if err != nil {
		result.Failed++
		s.metrics.OverageReport(ctx, "failed")
		if logErr := s.logRepo.MarkFailed(ctx, reportLog.ID, billing.ReportStatusFailed, err.Error(), attempts-1); logErr != nil {
			s.logger.Error("failed to update report log", zap.Error(logErr))
		}
		s.logger.Error("overage report failed after retries",
			zap.String("tenant_id", sub.TenantID.String()),
			zap.String("capability", capability.String()),
			zap.Int64("overage", overage),
			zap.Int("attempts", attempts),
			zap.Error(err))

		if breaker.RecordFailure() {
			s.metrics.BreakerTripped(ctx)
			s.logger.Error("circuit breaker tripped, aborting overage run",
				zap.Int("threshold", s.config.BreakerThreshold))
			return ErrCircuitOpen
		}
		return nil
	}

	breaker.RecordSuccess()
	result.Reported++
	s.metrics.OverageReport(ctx, "success")
	if logErr := s.logRepo.MarkSuccess(ctx, reportLog.ID, output.ProviderRecordID, attempts-1); logErr != nil {
		s.logger.Error("failed to update report log", zap.Error(logErr))
	}
	s.logger.Info("overage reported",
		zap.String("tenant_id", sub.TenantID.String()),
		zap.String("capability", capability.String()),
		zap.Int64("overage", overage),
		zap.String("provider_record_id", output.ProviderRecordID))
	return nil
}
