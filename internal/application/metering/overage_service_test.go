package metering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domain "github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/subscription"
	"github.com/usagehq/metering/internal/infrastructure/billing"
)

// fastOverageConfig disables backoff sleeps and retries so failure
// paths run instantly
func fastOverageConfig() OverageConfig {
	return OverageConfig{
		Retry:            RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		BreakerThreshold: 5,
		DedupTTL:         time.Hour,
	}
}

type overageFixture struct {
	subRepo     *MockSubscriptionRepository
	counterRepo *MockUsageCounterRepository
	provider    *MockProvider
	logRepo     *MockReportLogRepository
	service     *OverageService
	sub         *subscription.Subscription
	tenantID    uuid.UUID
	periodStart time.Time
}

func newOverageFixture(t *testing.T, config OverageConfig) *overageFixture {
	t.Helper()
	tenantID := uuid.New()
	periodStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sub, err := subscription.NewSubscription(tenantID, "starter", periodStart, periodStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	sub.WithProviderRefs("cus_1", map[domain.Capability]string{
		domain.CapabilityEmail:   "si_email",
		domain.CapabilityInvoice: "si_invoice",
	})

	subRepo := new(MockSubscriptionRepository)
	counterRepo := new(MockUsageCounterRepository)
	provider := new(MockProvider)
	logRepo := new(MockReportLogRepository)

	logRepo.On("Save", mock.Anything, mock.AnythingOfType("*billing.OverageReportLog")).Return(nil).Maybe()
	logRepo.On("MarkSuccess", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	logRepo.On("MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	return &overageFixture{
		subRepo:     subRepo,
		counterRepo: counterRepo,
		provider:    provider,
		logRepo:     logRepo,
		service:     NewOverageService(counterRepo, subRepo, provider, logRepo, nil, nil, zap.NewNop(), config),
		sub:         sub,
		tenantID:    tenantID,
		periodStart: periodStart,
	}
}

func (f *overageFixture) expectPlanAndCounter(ctx context.Context, t *testing.T, emailCount int64) {
	t.Helper()
	plan, err := subscription.NewPlan("starter", "Starter", []subscription.CapabilityAllowance{
		{Capability: domain.CapabilityEmail, IncludedLimit: 50, OverageUnitPrice: decimal.RequireFromString("0.10")},
	})
	require.NoError(t, err)

	counter, err := domain.NewUsageCounter(f.tenantID, domain.CapabilityEmail, f.periodStart, f.periodStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	counter.Count = emailCount

	f.subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{f.sub}, nil)
	f.subRepo.On("FindPlanByCode", ctx, "starter").Return(plan, nil)
	f.counterRepo.On("FindByTenantAndPeriod", ctx, f.tenantID, domain.CapabilityEmail, f.periodStart).
		Return(counter, nil)
}

func TestReportAll(t *testing.T) {
	ctx := context.Background()

	t.Run("reports absolute overage total", func(t *testing.T) {
		f := newOverageFixture(t, fastOverageConfig())
		f.expectPlanAndCounter(ctx, t, 52) // 2 over the 50 limit

		f.provider.On("ReportOverage", ctx, mock.MatchedBy(func(in billing.OverageReportInput) bool {
			return in.SubscriptionItemID == "si_email" && in.Quantity == 2
		})).Return(&billing.OverageReportOutput{ProviderRecordID: "mbre_1", Quantity: 2}, nil)

		result, err := f.service.ReportAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Reported)
		assert.Equal(t, 0, result.Failed)
		assert.False(t, result.Aborted)
		f.provider.AssertExpectations(t)
	})

	t.Run("no overage means no provider call", func(t *testing.T) {
		f := newOverageFixture(t, fastOverageConfig())
		f.expectPlanAndCounter(ctx, t, 42)

		result, err := f.service.ReportAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, result.Reported)
		assert.Equal(t, 1, result.Skipped)
		f.provider.AssertNotCalled(t, "ReportOverage", mock.Anything, mock.Anything)
	})

	t.Run("missing counter treated as zero usage", func(t *testing.T) {
		f := newOverageFixture(t, fastOverageConfig())
		plan, err := subscription.NewPlan("starter", "Starter", []subscription.CapabilityAllowance{
			{Capability: domain.CapabilityEmail, IncludedLimit: 50, OverageUnitPrice: decimal.RequireFromString("0.10")},
		})
		require.NoError(t, err)

		f.subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{f.sub}, nil)
		f.subRepo.On("FindPlanByCode", ctx, "starter").Return(plan, nil)
		f.counterRepo.On("FindByTenantAndPeriod", ctx, f.tenantID, domain.CapabilityEmail, f.periodStart).
			Return(nil, nil)

		result, err := f.service.ReportAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		f.provider.AssertNotCalled(t, "ReportOverage", mock.Anything, mock.Anything)
	})

	t.Run("unlimited allowance is skipped", func(t *testing.T) {
		f := newOverageFixture(t, fastOverageConfig())
		plan, err := subscription.NewPlan("scale", "Scale", []subscription.CapabilityAllowance{
			{Capability: domain.CapabilityEmail, IncludedLimit: subscription.UnlimitedAllowance},
		})
		require.NoError(t, err)
		f.sub.PlanCode = "scale"

		f.subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{f.sub}, nil)
		f.subRepo.On("FindPlanByCode", ctx, "scale").Return(plan, nil)

		result, err := f.service.ReportAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		f.counterRepo.AssertNotCalled(t, "FindByTenantAndPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("exhausted retries count as failure without aborting", func(t *testing.T) {
		f := newOverageFixture(t, fastOverageConfig())
		f.expectPlanAndCounter(ctx, t, 60)

		f.provider.On("ReportOverage", ctx, mock.Anything).
			Return(nil, &billing.ProviderError{Operation: "ReportOverage", Transient: true, Err: errors.New("timeout")})

		result, err := f.service.ReportAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		assert.False(t, result.Aborted)
	})

	t.Run("breaker trips after threshold consecutive failures", func(t *testing.T) {
		config := fastOverageConfig()
		config.BreakerThreshold = 5
		f := newOverageFixture(t, config)

		// Six tenants, each with one over-limit counter and a failing provider
		plan, err := subscription.NewPlan("starter", "Starter", []subscription.CapabilityAllowance{
			{Capability: domain.CapabilityEmail, IncludedLimit: 50, OverageUnitPrice: decimal.RequireFromString("0.10")},
		})
		require.NoError(t, err)

		var subs []*subscription.Subscription
		for i := 0; i < 6; i++ {
			tenantID := uuid.New()
			sub, err := subscription.NewSubscription(tenantID, "starter", f.periodStart, f.periodStart.AddDate(0, 1, 0))
			require.NoError(t, err)
			sub.WithProviderRefs("cus_x", map[domain.Capability]string{domain.CapabilityEmail: "si_x"})
			subs = append(subs, sub)

			counter, err := domain.NewUsageCounter(tenantID, domain.CapabilityEmail, f.periodStart, f.periodStart.AddDate(0, 1, 0))
			require.NoError(t, err)
			counter.Count = 60
			f.counterRepo.On("FindByTenantAndPeriod", ctx, tenantID, domain.CapabilityEmail, f.periodStart).
				Return(counter, nil)
		}

		f.subRepo.On("FindAllActive", ctx).Return(subs, nil)
		f.subRepo.On("FindPlanByCode", ctx, "starter").Return(plan, nil)
		f.provider.On("ReportOverage", ctx, mock.Anything).
			Return(nil, &billing.ProviderError{Operation: "ReportOverage", Transient: true, Err: errors.New("timeout")})

		result, err := f.service.ReportAll(ctx)

		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.True(t, result.Aborted)
		assert.Equal(t, 5, result.Failed)
		// The sixth tenant is never attempted
		f.provider.AssertNumberOfCalls(t, "ReportOverage", 5)
	})

	t.Run("success resets the consecutive failure count", func(t *testing.T) {
		breaker := NewCircuitBreaker(3)

		assert.False(t, breaker.RecordFailure())
		assert.False(t, breaker.RecordFailure())
		breaker.RecordSuccess()
		assert.False(t, breaker.RecordFailure())
		assert.False(t, breaker.RecordFailure())
		assert.True(t, breaker.RecordFailure())
		assert.True(t, breaker.IsOpen())
	})
}

func TestReportClosedPeriods(t *testing.T) {
	ctx := context.Background()

	t.Run("reports the prior period after rollover", func(t *testing.T) {
		f := newOverageFixture(t, fastOverageConfig())
		plan, err := subscription.NewPlan("starter", "Starter", []subscription.CapabilityAllowance{
			{Capability: domain.CapabilityEmail, IncludedLimit: 50, OverageUnitPrice: decimal.RequireFromString("0.10")},
		})
		require.NoError(t, err)

		// Rolled over yesterday: current period starts Sep 1, closed
		// period started Aug 1
		f.sub.AdvancePeriod()
		closedStart := f.periodStart

		counter, err := domain.NewUsageCounter(f.tenantID, domain.CapabilityEmail, closedStart, closedStart.AddDate(0, 1, 0))
		require.NoError(t, err)
		counter.Count = 55

		f.subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{f.sub}, nil)
		f.subRepo.On("FindPlanByCode", ctx, "starter").Return(plan, nil)
		f.counterRepo.On("FindByTenantAndPeriodEnd", ctx, f.tenantID, domain.CapabilityEmail, f.sub.CurrentPeriodStart).
			Return(counter, nil)
		f.provider.On("ReportOverage", ctx, mock.MatchedBy(func(in billing.OverageReportInput) bool {
			return in.Quantity == 5
		})).Return(&billing.OverageReportOutput{ProviderRecordID: "mbre_2", Quantity: 5}, nil)

		since := f.sub.CurrentPeriodStart.Add(-24 * time.Hour)
		result, err := f.service.ReportClosedPeriods(ctx, since)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Reported)
		f.provider.AssertExpectations(t)
	})

	t.Run("finds the closed counter for a month-end anchor", func(t *testing.T) {
		f := newOverageFixture(t, fastOverageConfig())
		plan, err := subscription.NewPlan("starter", "Starter", []subscription.CapabilityAllowance{
			{Capability: domain.CapabilityEmail, IncludedLimit: 50, OverageUnitPrice: decimal.RequireFromString("0.10")},
		})
		require.NoError(t, err)

		// A Jan 31 anchor rolls over to a period starting Mar 3, not
		// Feb 28: subtracting a month from the new anchor would probe
		// Feb 3 and miss the closed counter entirely
		closedStart := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
		closedEnd := closedStart.AddDate(0, 1, 0)
		sub, err := subscription.NewSubscription(f.tenantID, "starter", closedStart, closedEnd)
		require.NoError(t, err)
		sub.WithProviderRefs("cus_1", map[domain.Capability]string{domain.CapabilityEmail: "si_email"})
		sub.AdvancePeriod()
		require.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), sub.CurrentPeriodStart)

		counter, err := domain.NewUsageCounter(f.tenantID, domain.CapabilityEmail, closedStart, closedEnd)
		require.NoError(t, err)
		counter.Count = 60

		f.subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{sub}, nil)
		f.subRepo.On("FindPlanByCode", ctx, "starter").Return(plan, nil)
		f.counterRepo.On("FindByTenantAndPeriodEnd", ctx, f.tenantID, domain.CapabilityEmail, sub.CurrentPeriodStart).
			Return(counter, nil)
		f.provider.On("ReportOverage", ctx, mock.MatchedBy(func(in billing.OverageReportInput) bool {
			return in.SubscriptionItemID == "si_email" && in.Quantity == 10
		})).Return(&billing.OverageReportOutput{ProviderRecordID: "mbre_3", Quantity: 10}, nil)

		result, err := f.service.ReportClosedPeriods(ctx, sub.CurrentPeriodStart.Add(-24*time.Hour))

		require.NoError(t, err)
		assert.Equal(t, 1, result.Reported)
		assert.Equal(t, 0, result.Skipped)
		f.provider.AssertExpectations(t)
	})

	t.Run("skips subscriptions that did not roll over", func(t *testing.T) {
		f := newOverageFixture(t, fastOverageConfig())
		f.subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{f.sub}, nil)

		since := f.sub.CurrentPeriodStart.Add(24 * time.Hour)
		result, err := f.service.ReportClosedPeriods(ctx, since)

		require.NoError(t, err)
		assert.Equal(t, 0, result.Reported)
		f.subRepo.AssertNotCalled(t, "FindPlanByCode", mock.Anything, mock.Anything)
	})
}
