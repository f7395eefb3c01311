// Package metering contains the core domain model for usage metering:
// immutable usage events (the ledger), per-period usage counters (the
// aggregate cache), and the repository contracts that persistence must
// fulfil. The ledger is the source of truth; counters exist so that
// "how much used so far" is answerable without scanning events.
//
// Key invariants:
//   - UsageEvent.IdempotencyKey is globally unique; duplicate writes
//     collapse to the original event with no counter change.
//   - Exactly one UsageCounter exists per (tenant, capability,
//     period_start); its count eventually equals the sum of matching
//     event quantities, with the reconciler restoring the equality.
package metering
