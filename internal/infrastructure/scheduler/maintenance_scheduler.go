package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	appmetering "github.com/usagehq/metering/internal/application/metering"
)

// PeriodRunner pre-creates the current period's counters
type PeriodRunner interface {
	EnsureCounters(ctx context.Context) (*appmetering.PeriodRunResult, error)
}

// Reconciler verifies cached counters against the event ledger
type Reconciler interface {
	ReconcileAll(ctx context.Context) (*appmetering.ReconcileRunResult, error)
}

// OverageReporter pushes overage totals to the billing provider
type OverageReporter interface {
	ReportAll(ctx context.Context) (*appmetering.OverageRunResult, error)
	ReportClosedPeriods(ctx context.Context, since time.Time) (*appmetering.OverageRunResult, error)
}

// MaintenanceSchedulerConfig holds configuration for the daily maintenance loop
type MaintenanceSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// DailyHour is the hour (0-23) when the daily run starts
	DailyHour int

	// JobTimeout is the maximum time for one full maintenance run
	JobTimeout time.Duration
}

// DefaultMaintenanceSchedulerConfig returns default configuration
func DefaultMaintenanceSchedulerConfig() MaintenanceSchedulerConfig {
	return MaintenanceSchedulerConfig{
		Enabled:    true,
		DailyHour:  2, // 2 AM
		JobTimeout: 30 * time.Minute,
	}
}

// MaintenanceScheduler runs the daily metering maintenance sequence:
// counter pre-creation, ledger reconciliation, overage reporting for the
// open period and final reports for periods that closed since the last
// run.
type MaintenanceScheduler struct {
	periods   PeriodRunner
	reconcile Reconciler
	overage   OverageReporter
	logger    *zap.Logger
	config    MaintenanceSchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRunAt time.Time
}

// NewMaintenanceScheduler creates a new maintenance scheduler
func NewMaintenanceScheduler(
	periods PeriodRunner,
	reconcile Reconciler,
	overage OverageReporter,
	logger *zap.Logger,
	config MaintenanceSchedulerConfig,
) (*MaintenanceScheduler, error) {
	if config.DailyHour < 0 || config.DailyHour > 23 {
		return nil, ErrInvalidConfig
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Minute
	}

	return &MaintenanceScheduler{
		periods:   periods,
		reconcile: reconcile,
		overage:   overage,
		logger:    logger,
		config:    config,
	}, nil
}

// Start starts the daily maintenance loop
func (s *MaintenanceScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Maintenance scheduler is disabled")
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runDailyLoop(ctx)

	s.logger.Info("Maintenance scheduler started",
		zap.Int("daily_hour", s.config.DailyHour),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)

	return nil
}

// Stop gracefully stops the scheduler
func (s *MaintenanceScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	// Wait for goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Maintenance scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Maintenance scheduler stop timed out")
		return ctx.Err()
	}
}

// runDailyLoop runs the maintenance sequence once per day at the configured hour
func (s *MaintenanceScheduler) runDailyLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		now := time.Now()
		nextRun := time.Date(now.Year(), now.Month(), now.Day(), s.config.DailyHour, 0, 0, 0, now.Location())
		if now.After(nextRun) {
			// Already past today's run time, schedule for tomorrow
			nextRun = nextRun.Add(24 * time.Hour)
		}
		delay := time.Until(nextRun)

		s.logger.Info("Daily maintenance scheduled",
			zap.Time("next_run", nextRun),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			s.logger.Debug("Daily maintenance loop stopping")
			return
		case <-time.After(delay):
			s.executeRun(ctx, "daily")
		}
	}
}

// executeRun performs one full maintenance sequence. Steps run in order;
// a failed step does not block the remaining ones.
func (s *MaintenanceScheduler) executeRun(ctx context.Context, trigger string) {
	s.mu.Lock()
	since := s.lastRunAt
	s.lastRunAt = time.Now()
	s.mu.Unlock()

	if since.IsZero() {
		// First run after startup: look one day back for closed periods
		since = time.Now().Add(-24 * time.Hour)
	}

	s.logger.Info("Starting maintenance run",
		zap.String("trigger", trigger),
		zap.Time("started_at", time.Now()),
	)

	runCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	startTime := time.Now()

	if result, err := s.periods.EnsureCounters(runCtx); err != nil {
		s.logger.Error("Counter pre-creation failed", zap.Error(err))
	} else {
		s.logger.Info("Counter pre-creation completed",
			zap.Int("subscriptions", result.SubscriptionsSeen),
			zap.Int("created", result.CountersCreated),
			zap.Int("failures", result.Failures),
		)
	}

	if result, err := s.reconcile.ReconcileAll(runCtx); err != nil {
		s.logger.Error("Reconciliation failed", zap.Error(err))
	} else {
		s.logger.Info("Reconciliation completed",
			zap.Int("checked", result.CountersChecked),
			zap.Int("corrections", result.Corrections),
			zap.Int("alerts", len(result.Alerts)),
		)
	}

	if result, err := s.overage.ReportAll(runCtx); err != nil {
		s.logger.Error("Overage reporting failed", zap.Error(err))
	} else {
		s.logger.Info("Overage reporting completed",
			zap.Int("reported", result.Reported),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
		)
	}

	if result, err := s.overage.ReportClosedPeriods(runCtx, since); err != nil {
		s.logger.Error("Closed-period reporting failed", zap.Error(err))
	} else if result.Reported > 0 {
		s.logger.Info("Closed-period reporting completed",
			zap.Int("reported", result.Reported),
		)
	}

	s.logger.Info("Maintenance run completed",
		zap.String("trigger", trigger),
		zap.Duration("duration", time.Since(startTime)),
	)
}

// TriggerImmediateRun triggers an immediate maintenance run
func (s *MaintenanceScheduler) TriggerImmediateRun(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1) // Track the goroutine
	s.mu.Unlock()

	s.logger.Info("Triggering immediate maintenance run")

	// Run in a goroutine to not block
	go func() {
		defer s.wg.Done()
		s.executeRun(ctx, "manual")
	}()

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *MaintenanceScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
