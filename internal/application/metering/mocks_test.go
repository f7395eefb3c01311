package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	domain "github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/subscription"
	"github.com/usagehq/metering/internal/infrastructure/billing"
)

// MockSubscriptionRepository is a mock implementation of subscription.Repository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*subscription.Subscription, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindAllActive(ctx context.Context) ([]*subscription.Subscription, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*subscription.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindPlanByCode(ctx context.Context, code string) (*subscription.Plan, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Plan), args.Error(1)
}

// MockLedgerStore is a mock implementation of domain.LedgerStore
type MockLedgerStore struct {
	mock.Mock
}

func (m *MockLedgerStore) RecordAtomic(ctx context.Context, event *domain.UsageEvent, periodStart, periodEnd time.Time) (*domain.UsageEvent, bool, error) {
	args := m.Called(ctx, event, periodStart, periodEnd)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.UsageEvent), args.Bool(1), args.Error(2)
}

// MockUsageEventRepository is a mock implementation of domain.UsageEventRepository
type MockUsageEventRepository struct {
	mock.Mock
}

func (m *MockUsageEventRepository) Save(ctx context.Context, event *domain.UsageEvent) (*domain.UsageEvent, bool, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.UsageEvent), args.Bool(1), args.Error(2)
}

func (m *MockUsageEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.UsageEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UsageEvent), args.Error(1)
}

func (m *MockUsageEventRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.UsageEvent, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UsageEvent), args.Error(1)
}

func (m *MockUsageEventRepository) FindByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, capability domain.Capability, periodStart, periodEnd time.Time) ([]*domain.UsageEvent, error) {
	args := m.Called(ctx, tenantID, capability, periodStart, periodEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.UsageEvent), args.Error(1)
}

func (m *MockUsageEventRepository) SumForPeriod(ctx context.Context, tenantID uuid.UUID, capability domain.Capability, periodStart, periodEnd time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, capability, periodStart, periodEnd)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageEventRepository) CountForPeriod(ctx context.Context, tenantID uuid.UUID, capability domain.Capability, periodStart, periodEnd time.Time) (int64, error) {
	args := m.Called(ctx, tenantID, capability, periodStart, periodEnd)
	return args.Get(0).(int64), args.Error(1)
}

// MockUsageCounterRepository is a mock implementation of domain.UsageCounterRepository
type MockUsageCounterRepository struct {
	mock.Mock
}

func (m *MockUsageCounterRepository) GetOrCreate(ctx context.Context, counter *domain.UsageCounter) (*domain.UsageCounter, bool, error) {
	args := m.Called(ctx, counter)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.UsageCounter), args.Bool(1), args.Error(2)
}

func (m *MockUsageCounterRepository) IncrementCount(ctx context.Context, id uuid.UUID, delta int64, eventAt time.Time) error {
	args := m.Called(ctx, id, delta, eventAt)
	return args.Error(0)
}

func (m *MockUsageCounterRepository) SetCount(ctx context.Context, id uuid.UUID, count int64) error {
	args := m.Called(ctx, id, count)
	return args.Error(0)
}

func (m *MockUsageCounterRepository) FindByTenantAndPeriodEnd(ctx context.Context, tenantID uuid.UUID, capability domain.Capability, periodEnd time.Time) (*domain.UsageCounter, error) {
	args := m.Called(ctx, tenantID, capability, periodEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UsageCounter), args.Error(1)
}

func (m *MockUsageCounterRepository) FindByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, capability domain.Capability, periodStart time.Time) (*domain.UsageCounter, error) {
	args := m.Called(ctx, tenantID, capability, periodStart)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UsageCounter), args.Error(1)
}

func (m *MockUsageCounterRepository) FindAllByTenantAndPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) ([]*domain.UsageCounter, error) {
	args := m.Called(ctx, tenantID, periodStart)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.UsageCounter), args.Error(1)
}

func (m *MockUsageCounterRepository) FindAllForPeriod(ctx context.Context, periodStart time.Time) ([]*domain.UsageCounter, error) {
	args := m.Called(ctx, periodStart)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.UsageCounter), args.Error(1)
}

// MockProvider is a mock implementation of billing.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) ReportOverage(ctx context.Context, input billing.OverageReportInput) (*billing.OverageReportOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.OverageReportOutput), args.Error(1)
}

// MockReportLogRepository is a mock implementation of billing.ReportLogRepository
type MockReportLogRepository struct {
	mock.Mock
}

func (m *MockReportLogRepository) Save(ctx context.Context, log *billing.OverageReportLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockReportLogRepository) MarkSuccess(ctx context.Context, id uuid.UUID, providerRecordID string, retryCount int) error {
	args := m.Called(ctx, id, providerRecordID, retryCount)
	return args.Error(0)
}

func (m *MockReportLogRepository) MarkFailed(ctx context.Context, id uuid.UUID, status billing.ReportStatus, errorMessage string, retryCount int) error {
	args := m.Called(ctx, id, status, errorMessage, retryCount)
	return args.Error(0)
}

func (m *MockReportLogRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, start, end time.Time) ([]*billing.OverageReportLog, error) {
	args := m.Called(ctx, tenantID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.OverageReportLog), args.Error(1)
}
