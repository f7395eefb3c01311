package metering

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domain "github.com/usagehq/metering/internal/domain/metering"
	"github.com/usagehq/metering/internal/domain/subscription"
)

// RecordEventInput contains the producer-supplied fields of a billable
// action. IdempotencyKey is optional; when empty it is derived from the
// other fields.
type RecordEventInput struct {
	TenantID       uuid.UUID
	Capability     domain.Capability
	ActionType     domain.ActionType
	ResourceID     string
	Quantity       int64
	IdempotencyKey string
	Metadata       domain.Metadata
}

// RecordEventResult reports the outcome of a record call
type RecordEventResult struct {
	Event     *domain.UsageEvent
	Duplicate bool // True when an event with the same idempotency key already existed
}

// RecorderService is the single write path for usage. Each accepted
// event is persisted and its period counter incremented in one
// transaction via the ledger store.
type RecorderService struct {
	store   domain.LedgerStore
	subRepo subscription.Repository
	metrics Metrics
	logger  *zap.Logger
}

// NewRecorderService creates a new RecorderService
func NewRecorderService(
	store domain.LedgerStore,
	subRepo subscription.Repository,
	metrics Metrics,
	logger *zap.Logger,
) *RecorderService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &RecorderService{
		store:   store,
		subRepo: subRepo,
		metrics: metrics,
		logger:  logger,
	}
}

// RecordEvent validates, deduplicates and persists one billable action.
// The tenant must hold an active subscription; otherwise nothing is
// written and a ConfigurationError is returned. A duplicate idempotency
// key is not an error: the previously stored event is returned and the
// counter is left untouched.
func (s *RecorderService) RecordEvent(ctx context.Context, input RecordEventInput) (*RecordEventResult, error) {
	sub, err := s.subRepo.FindActiveByTenant(ctx, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("looking up subscription: %w", err)
	}
	if sub == nil || !sub.IsActive() {
		s.metrics.ConfigurationErrorHit(ctx)
		s.logger.Warn("usage event rejected: no active subscription",
			zap.String("tenant_id", input.TenantID.String()),
			zap.String("capability", input.Capability.String()))
		return nil, NewConfigurationError(input.TenantID)
	}

	event, err := domain.NewUsageEvent(input.TenantID, input.Capability, input.ActionType, input.ResourceID, input.Quantity)
	if err != nil {
		return nil, err
	}
	if input.IdempotencyKey != "" {
		event.IdempotencyKey = input.IdempotencyKey
	}
	for k, v := range input.Metadata {
		event.WithMetadata(k, v)
	}

	stored, created, err := s.store.RecordAtomic(ctx, event, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("recording usage event: %w", err)
	}

	if !created {
		s.metrics.DuplicateCollapsed(ctx, event.Capability.String())
		s.logger.Debug("duplicate usage event collapsed",
			zap.String("tenant_id", input.TenantID.String()),
			zap.String("idempotency_key", event.IdempotencyKey))
		return &RecordEventResult{Event: stored, Duplicate: true}, nil
	}

	s.metrics.EventRecorded(ctx, event.Capability.String(), event.Quantity)
	s.logger.Info("usage event recorded",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("capability", event.Capability.String()),
		zap.String("action_type", event.ActionType.String()),
		zap.Int64("quantity", event.Quantity))

	return &RecordEventResult{Event: stored}, nil
}
