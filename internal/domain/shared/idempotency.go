package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers keys that have already been acted on, so
// at-least-once producers and repeated scheduler runs stay safe.
type IdempotencyStore interface {
	// MarkProcessed records a key with a TTL. It returns true when the
	// key was newly recorded and false when it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether a key has been recorded and is still
	// within its TTL.
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Close releases any resources held by the store
	Close() error
}
