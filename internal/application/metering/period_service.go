package metering

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	domain "github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/subscription"
)

// PeriodRunResult summarizes one period manager run
type PeriodRunResult struct {
	SubscriptionsSeen int
	CountersCreated   int
	CountersExisting  int
	Failures          int
	Duration          time.Duration
}

// PeriodService pre-creates usage counters for every active
// subscription's current billing period so the read path never has to
// distinguish "no usage yet" from "no counter yet".
type PeriodService struct {
	counterRepo domain.UsageCounterRepository
	subRepo     subscription.Repository
	logger      *zap.Logger
}

// NewPeriodService creates a new PeriodService
func NewPeriodService(
	counterRepo domain.UsageCounterRepository,
	subRepo subscription.Repository,
	logger *zap.Logger,
) *PeriodService {
	return &PeriodService{
		counterRepo: counterRepo,
		subRepo:     subRepo,
		logger:      logger,
	}
}

// EnsureCounters walks all active subscriptions and creates any missing
// counter for (tenant, plan capability, current period). Per-tenant
// failures are logged and counted without aborting the run; context
// cancellation stops after the current tenant.
func (s *PeriodService) EnsureCounters(ctx context.Context) (*PeriodRunResult, error) {
	start := time.Now()
	result := &PeriodRunResult{}

	subs, err := s.subRepo.FindAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active subscriptions: %w", err)
	}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		result.SubscriptionsSeen++

		if err := s.ensureTenantCounters(ctx, sub, result); err != nil {
			result.Failures++
			s.logger.Error("failed to ensure counters for tenant",
				zap.String("tenant_id", sub.TenantID.String()),
				zap.Error(err))
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info("period maintenance completed",
		zap.Int("subscriptions", result.SubscriptionsSeen),
		zap.Int("created", result.CountersCreated),
		zap.Int("existing", result.CountersExisting),
		zap.Int("failures", result.Failures),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (s *PeriodService) ensureTenantCounters(ctx context.Context, sub *subscription.Subscription, result *PeriodRunResult) error {
	plan, err := s.subRepo.FindPlanByCode(ctx, sub.PlanCode)
	if err != nil {
		return fmt.Errorf("looking up plan %s: %w", sub.PlanCode, err)
	}
	if plan == nil {
		return fmt.Errorf("plan %s not found", sub.PlanCode)
	}

	for _, allowance := range plan.Allowances {
		counter, err := domain.NewUsageCounter(sub.TenantID, allowance.Capability, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
		if err != nil {
			return err
		}
		_, created, err := s.counterRepo.GetOrCreate(ctx, counter)
		if err != nil {
			return fmt.Errorf("creating counter for %s: %w", allowance.Capability, err)
		}
		if created {
			result.CountersCreated++
		} else {
			result.CountersExisting++
		}
	}
	return nil
}
