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
)

func starterPlan(t *testing.T) *subscription.Plan {
	t.Helper()
	plan, err := subscription.NewPlan("starter", "Starter", []subscription.CapabilityAllowance{
		{Capability: domain.CapabilityEmail, IncludedLimit: 50, OverageUnitPrice: decimal.RequireFromString("0.10")},
		{Capability: domain.CapabilityInvoice, IncludedLimit: 20, OverageUnitPrice: decimal.RequireFromString("0.25")},
	})
	require.NoError(t, err)
	return plan
}

func TestEnsureCounters(t *testing.T) {
	ctx := context.Background()
	periodStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	t.Run("creates a counter per plan capability", func(t *testing.T) {
		subRepo := new(MockSubscriptionRepository)
		counterRepo := new(MockUsageCounterRepository)
		sub, err := subscription.NewSubscription(uuid.New(), "starter", periodStart, periodStart.AddDate(0, 1, 0))
		require.NoError(t, err)

		created, err := domain.NewUsageCounter(sub.TenantID, domain.CapabilityEmail, periodStart, periodStart.AddDate(0, 1, 0))
		require.NoError(t, err)

		subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{sub}, nil)
		subRepo.On("FindPlanByCode", ctx, "starter").Return(starterPlan(t), nil)
		counterRepo.On("GetOrCreate", ctx, mock.AnythingOfType("*metering.UsageCounter")).
			Return(created, true, nil)

		service := NewPeriodService(counterRepo, subRepo, zap.NewNop())
		result, err := service.EnsureCounters(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.SubscriptionsSeen)
		assert.Equal(t, 2, result.CountersCreated)
		assert.Equal(t, 0, result.Failures)
		counterRepo.AssertNumberOfCalls(t, "GetOrCreate", 2)
	})

	t.Run("counts existing counters separately", func(t *testing.T) {
		subRepo := new(MockSubscriptionRepository)
		counterRepo := new(MockUsageCounterRepository)
		tenantID := uuid.New()
		sub, err := subscription.NewSubscription(tenantID, "starter", periodStart, periodStart.AddDate(0, 1, 0))
		require.NoError(t, err)

		existing, err := domain.NewUsageCounter(tenantID, domain.CapabilityEmail, periodStart, periodStart.AddDate(0, 1, 0))
		require.NoError(t, err)

		subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{sub}, nil)
		subRepo.On("FindPlanByCode", ctx, "starter").Return(starterPlan(t), nil)
		counterRepo.On("GetOrCreate", ctx, mock.AnythingOfType("*metering.UsageCounter")).
			Return(existing, false, nil)

		service := NewPeriodService(counterRepo, subRepo, zap.NewNop())
		result, err := service.EnsureCounters(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, result.CountersExisting)
		assert.Equal(t, 0, result.CountersCreated)
	})

	t.Run("tenant failure does not abort the run", func(t *testing.T) {
		subRepo := new(MockSubscriptionRepository)
		counterRepo := new(MockUsageCounterRepository)
		subA, err := subscription.NewSubscription(uuid.New(), "broken", periodStart, periodStart.AddDate(0, 1, 0))
		require.NoError(t, err)
		subB, err := subscription.NewSubscription(uuid.New(), "starter", periodStart, periodStart.AddDate(0, 1, 0))
		require.NoError(t, err)

		subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{subA, subB}, nil)
		createdCounter, err := domain.NewUsageCounter(subB.TenantID, domain.CapabilityEmail, periodStart, periodStart.AddDate(0, 1, 0))
		require.NoError(t, err)

		subRepo.On("FindPlanByCode", ctx, "broken").Return(nil, errors.New("db down"))
		subRepo.On("FindPlanByCode", ctx, "starter").Return(starterPlan(t), nil)
		counterRepo.On("GetOrCreate", ctx, mock.AnythingOfType("*metering.UsageCounter")).
			Return(createdCounter, true, nil)

		service := NewPeriodService(counterRepo, subRepo, zap.NewNop())
		result, err := service.EnsureCounters(ctx)

		require.NoError(t, err)
		assert.Equal(t, 2, result.SubscriptionsSeen)
		assert.Equal(t, 1, result.Failures)
		assert.Equal(t, 2, result.CountersCreated)
	})

	t.Run("stops after current tenant on cancellation", func(t *testing.T) {
		subRepo := new(MockSubscriptionRepository)
		counterRepo := new(MockUsageCounterRepository)
		canceled, cancel := context.WithCancel(context.Background())
		cancel()

		sub, err := subscription.NewSubscription(uuid.New(), "starter", periodStart, periodStart.AddDate(0, 1, 0))
		require.NoError(t, err)
		subRepo.On("FindAllActive", canceled).Return([]*subscription.Subscription{sub}, nil)

		service := NewPeriodService(counterRepo, subRepo, zap.NewNop())
		result, err := service.EnsureCounters(canceled)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, result.SubscriptionsSeen)
		counterRepo.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything)
	})
}
