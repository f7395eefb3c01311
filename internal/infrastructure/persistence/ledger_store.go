package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/usagehq/metering/internal/domain/metering"
)

// LedgerStore implements metering.LedgerStore: the event insert and the
// counter increment commit together or not at all.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore creates a new ledger store
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

var _ metering.LedgerStore = (*LedgerStore)(nil)

// RecordAtomic inserts the event and increments its period counter in a
// single transaction. A duplicate idempotency key short-circuits inside
// the transaction: the stored event is returned with created=false and
// the counter is never touched.
func (s *LedgerStore) RecordAtomic(ctx context.Context, event *metering.UsageEvent, periodStart, periodEnd time.Time) (*metering.UsageEvent, bool, error) {
	var (
		stored  *metering.UsageEvent
		created bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stored, created, err = saveEvent(tx, event)
		if err != nil {
			return err
		}
		if !created {
			return nil
		}

		counter, err := metering.NewUsageCounter(event.TenantID, event.Capability, periodStart, periodEnd)
		if err != nil {
			return err
		}
		counterRow, _, err := getOrCreateCounter(tx, counter)
		if err != nil {
			return err
		}
		return incrementCounter(tx, counterRow.ID, event.Quantity, event.RecordedAt)
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}
