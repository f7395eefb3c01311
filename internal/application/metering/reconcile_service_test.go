package metering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/subscription"
)

type reconcileFixture struct {
	subRepo     *MockSubscriptionRepository
	eventRepo   *MockUsageEventRepository
	counterRepo *MockUsageCounterRepository
	service     *ReconcileService
	sub         *subscription.Subscription
	tenantID    uuid.UUID
}

func newReconcileFixture(t *testing.T, config ReconcileConfig) *reconcileFixture {
	t.Helper()
	tenantID := uuid.New()
	periodStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sub, err := subscription.NewSubscription(tenantID, "starter", periodStart, periodStart.AddDate(0, 1, 0))
	require.NoError(t, err)

	subRepo := new(MockSubscriptionRepository)
	eventRepo := new(MockUsageEventRepository)
	counterRepo := new(MockUsageCounterRepository)

	return &reconcileFixture{
		subRepo:     subRepo,
		eventRepo:   eventRepo,
		counterRepo: counterRepo,
		service:     NewReconcileService(eventRepo, counterRepo, subRepo, nil, zap.NewNop(), config),
		sub:         sub,
		tenantID:    tenantID,
	}
}

func (f *reconcileFixture) expectCounter(ctx context.Context, t *testing.T, cached, actual int64) *domain.UsageCounter {
	t.Helper()
	counter, err := domain.NewUsageCounter(f.tenantID, domain.CapabilityEmail, f.sub.CurrentPeriodStart, f.sub.CurrentPeriodEnd)
	require.NoError(t, err)
	counter.Count = cached

	f.subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{f.sub}, nil)
	f.counterRepo.On("FindAllByTenantAndPeriod", ctx, f.tenantID, f.sub.CurrentPeriodStart).
		Return([]*domain.UsageCounter{counter}, nil)
	f.eventRepo.On("SumForPeriod", ctx, f.tenantID, domain.CapabilityEmail, counter.PeriodStart, counter.PeriodEnd).
		Return(actual, nil)
	return counter
}

func TestReconcileAll(t *testing.T) {
	ctx := context.Background()

	t.Run("zero drift leaves counter alone", func(t *testing.T) {
		f := newReconcileFixture(t, DefaultReconcileConfig())
		f.expectCounter(ctx, t, 100, 100)

		result, err := f.service.ReconcileAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.CountersChecked)
		assert.Equal(t, 0, result.Corrections)
		assert.Empty(t, result.Alerts)
		f.counterRepo.AssertNotCalled(t, "SetCount", ctx, mock.Anything, mock.Anything)
	})

	t.Run("drift under five percent is corrected", func(t *testing.T) {
		f := newReconcileFixture(t, ReconcileConfig{MaxAutoCorrectPercent: 5.0, AbsoluteDriftFloor: 0})
		counter := f.expectCounter(ctx, t, 960, 1000) // 4% drift
		f.counterRepo.On("SetCount", ctx, counter.ID, int64(1000)).Return(nil)

		result, err := f.service.ReconcileAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Corrections)
		assert.Empty(t, result.Alerts)
		f.counterRepo.AssertExpectations(t)
	})

	t.Run("drift over five percent raises alert without correcting", func(t *testing.T) {
		f := newReconcileFixture(t, ReconcileConfig{MaxAutoCorrectPercent: 5.0, AbsoluteDriftFloor: 0})
		f.expectCounter(ctx, t, 940, 1000) // 6% drift

		result, err := f.service.ReconcileAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, result.Corrections)
		require.Len(t, result.Alerts, 1)
		alert := result.Alerts[0]
		assert.Equal(t, int64(1000), alert.Actual)
		assert.Equal(t, int64(940), alert.Cached)
		assert.InDelta(t, 6.0, alert.Percent, 0.0001)
		f.counterRepo.AssertNotCalled(t, "SetCount", ctx, mock.Anything, mock.Anything)
	})

	t.Run("small absolute drift is corrected despite high percentage", func(t *testing.T) {
		f := newReconcileFixture(t, DefaultReconcileConfig())
		counter := f.expectCounter(ctx, t, 2, 3) // 33% but only 1 unit
		f.counterRepo.On("SetCount", ctx, counter.ID, int64(3)).Return(nil)

		result, err := f.service.ReconcileAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Corrections)
		assert.Empty(t, result.Alerts)
	})

	t.Run("stale counter over empty ledger is corrected within floor", func(t *testing.T) {
		f := newReconcileFixture(t, DefaultReconcileConfig())
		counter := f.expectCounter(ctx, t, 7, 0) // 100% drift, 7 units
		f.counterRepo.On("SetCount", ctx, counter.ID, int64(0)).Return(nil)

		result, err := f.service.ReconcileAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Corrections)
		assert.Empty(t, result.Alerts)
	})

	t.Run("corrections log at info, excess drift at error", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		f := newReconcileFixture(t, ReconcileConfig{MaxAutoCorrectPercent: 5.0, AbsoluteDriftFloor: 0})
		f.service = NewReconcileService(f.eventRepo, f.counterRepo, f.subRepo, nil, zap.New(core),
			ReconcileConfig{MaxAutoCorrectPercent: 5.0, AbsoluteDriftFloor: 0})

		corrected, err := domain.NewUsageCounter(f.tenantID, domain.CapabilityEmail, f.sub.CurrentPeriodStart, f.sub.CurrentPeriodEnd)
		require.NoError(t, err)
		corrected.Count = 960
		alerting, err := domain.NewUsageCounter(f.tenantID, domain.CapabilityInvoice, f.sub.CurrentPeriodStart, f.sub.CurrentPeriodEnd)
		require.NoError(t, err)
		alerting.Count = 940

		f.subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{f.sub}, nil)
		f.counterRepo.On("FindAllByTenantAndPeriod", ctx, f.tenantID, f.sub.CurrentPeriodStart).
			Return([]*domain.UsageCounter{corrected, alerting}, nil)
		f.eventRepo.On("SumForPeriod", ctx, f.tenantID, domain.CapabilityEmail, corrected.PeriodStart, corrected.PeriodEnd).
			Return(int64(1000), nil)
		f.eventRepo.On("SumForPeriod", ctx, f.tenantID, domain.CapabilityInvoice, alerting.PeriodStart, alerting.PeriodEnd).
			Return(int64(1000), nil)
		f.counterRepo.On("SetCount", ctx, corrected.ID, int64(1000)).Return(nil)

		_, err = f.service.ReconcileAll(ctx)
		require.NoError(t, err)

		corrections := logs.FilterMessage("counter drift corrected")
		require.Equal(t, 1, corrections.Len())
		assert.Equal(t, zapcore.InfoLevel, corrections.All()[0].Level)

		alerts := logs.FilterMessage("counter drift exceeds auto-correct threshold")
		require.Equal(t, 1, alerts.Len())
		assert.Equal(t, zapcore.ErrorLevel, alerts.All()[0].Level)
	})

	t.Run("ledger read failure counts as failure and continues", func(t *testing.T) {
		f := newReconcileFixture(t, DefaultReconcileConfig())
		counter, err := domain.NewUsageCounter(f.tenantID, domain.CapabilityEmail, f.sub.CurrentPeriodStart, f.sub.CurrentPeriodEnd)
		require.NoError(t, err)

		f.subRepo.On("FindAllActive", ctx).Return([]*subscription.Subscription{f.sub}, nil)
		f.counterRepo.On("FindAllByTenantAndPeriod", ctx, f.tenantID, f.sub.CurrentPeriodStart).
			Return([]*domain.UsageCounter{counter}, nil)
		f.eventRepo.On("SumForPeriod", ctx, f.tenantID, domain.CapabilityEmail, counter.PeriodStart, counter.PeriodEnd).
			Return(int64(0), errors.New("db down"))

		result, err := f.service.ReconcileAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Failures)
		assert.Equal(t, 0, result.Corrections)
	})

	t.Run("correction write failure is counted", func(t *testing.T) {
		f := newReconcileFixture(t, DefaultReconcileConfig())
		counter := f.expectCounter(ctx, t, 96, 100)
		f.counterRepo.On("SetCount", ctx, counter.ID, int64(100)).Return(errors.New("db down"))

		result, err := f.service.ReconcileAll(ctx)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Failures)
		assert.Equal(t, 0, result.Corrections)
	})
}
