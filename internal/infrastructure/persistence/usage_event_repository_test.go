package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/usagehq/metering/internal/domain/metering"
)

// UsageEventModelSQLite is a SQLite-compatible version of UsageEventModel for testing
type UsageEventModelSQLite struct {
	ID             string    `gorm:"primaryKey"`
	TenantID       string    `gorm:"index;not null"`
	Capability     string    `gorm:"not null"`
	ActionType     string    `gorm:"not null"`
	ResourceID     string
	Quantity       int64     `gorm:"not null;default:1"`
	IdempotencyKey string    `gorm:"uniqueIndex;not null"`
	Metadata       string
	RecordedAt     time.Time `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (UsageEventModelSQLite) TableName() string {
	return "usage_events"
}

func setupUsageEventTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&UsageEventModelSQLite{})
	require.NoError(t, err)

	return db
}

func TestUsageEventRepository_Save(t *testing.T) {
	db := setupUsageEventTestDB(t)
	repo := NewUsageEventRepository(db)
	ctx := context.Background()

	t.Run("saves new usage event", func(t *testing.T) {
		tenantID := uuid.New()
		event, err := metering.NewUsageEvent(tenantID, metering.CapabilityEmail, metering.ActionProcessed, "msg-1", 1)
		require.NoError(t, err)
		event.WithMetadata("mailbox", "support")

		stored, created, err := repo.Save(ctx, event)

		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, event.ID, stored.ID)
		assert.Equal(t, "support", stored.Metadata["mailbox"])
	})

	t.Run("duplicate idempotency key returns existing event", func(t *testing.T) {
		tenantID := uuid.New()
		first, err := metering.NewUsageEvent(tenantID, metering.CapabilityEmail, metering.ActionProcessed, "msg-2", 1)
		require.NoError(t, err)
		_, created, err := repo.Save(ctx, first)
		require.NoError(t, err)
		require.True(t, created)

		second, err := metering.NewUsageEvent(tenantID, metering.CapabilityEmail, metering.ActionProcessed, "msg-2", 1)
		require.NoError(t, err)
		stored, created, err := repo.Save(ctx, second)

		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, stored.ID)
	})
}

func TestUsageEventRepository_FindByIdempotencyKey(t *testing.T) {
	db := setupUsageEventTestDB(t)
	repo := NewUsageEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	event, err := metering.NewUsageEvent(tenantID, metering.CapabilityInvoice, metering.ActionDetected, "inv-1", 1)
	require.NoError(t, err)
	_, _, err = repo.Save(ctx, event)
	require.NoError(t, err)

	t.Run("finds stored event", func(t *testing.T) {
		found, err := repo.FindByIdempotencyKey(ctx, event.IdempotencyKey)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, event.ID, found.ID)
	})

	t.Run("returns nil for unknown key", func(t *testing.T) {
		found, err := repo.FindByIdempotencyKey(ctx, "no-such-key")
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestUsageEventRepository_SumForPeriod(t *testing.T) {
	db := setupUsageEventTestDB(t)
	repo := NewUsageEventRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	periodStart := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	save := func(t *testing.T, capability metering.Capability, actionType metering.ActionType, resourceID string, quantity int64, at time.Time) {
		t.Helper()
		event, err := metering.NewUsageEvent(tenantID, capability, actionType, resourceID, quantity)
		require.NoError(t, err)
		event.WithRecordedAt(at)
		_, created, err := repo.Save(ctx, event)
		require.NoError(t, err)
		require.True(t, created)
	}

	save(t, metering.CapabilityEmail, metering.ActionProcessed, "m1", 3, periodStart)
	save(t, metering.CapabilityEmail, metering.ActionProcessed, "m2", 4, periodStart.Add(10*24*time.Hour))
	// End of period is exclusive
	save(t, metering.CapabilityEmail, metering.ActionProcessed, "m3", 100, periodEnd)
	// Before the period
	save(t, metering.CapabilityEmail, metering.ActionProcessed, "m4", 100, periodStart.Add(-time.Hour))
	// Other capability
	save(t, metering.CapabilityInvoice, metering.ActionDetected, "i1", 7, periodStart)

	t.Run("sums only matching events", func(t *testing.T) {
		total, err := repo.SumForPeriod(ctx, tenantID, metering.CapabilityEmail, periodStart, periodEnd)
		require.NoError(t, err)
		assert.Equal(t, int64(7), total)
	})

	t.Run("returns zero for empty period", func(t *testing.T) {
		total, err := repo.SumForPeriod(ctx, uuid.New(), metering.CapabilityEmail, periodStart, periodEnd)
		require.NoError(t, err)
		assert.Equal(t, int64(0), total)
	})

	t.Run("counts matching events", func(t *testing.T) {
		count, err := repo.CountForPeriod(ctx, tenantID, metering.CapabilityEmail, periodStart, periodEnd)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("lists events in recorded order", func(t *testing.T) {
		events, err := repo.FindByTenantAndPeriod(ctx, tenantID, metering.CapabilityEmail, periodStart, periodEnd)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(3), events[0].Quantity)
		assert.Equal(t, int64(4), events[1].Quantity)
	})
}
