package dynacrud

import (
	"context"
	"time"
)

// DefaultCacheTTL is the lifetime of a cached record measured from insertion.
const DefaultCacheTTL = 5 * time.Minute

// Cache is the interface for caching single-record reads.
// Implementations may be in-memory or backed by a shared store
// (e.g., Redis, Memcached) when several orchestrators run side by side.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheKey identifies a cached record.
type CacheKey struct {
	Model string
	ID    any
}

// String returns the string representation of the cache key. The id is
// encoded with its kind, so the string "1" and the number 1 differ while
// numbers of different Go types agree.
func (k CacheKey) String() string {
	id, ok := EdgeKey(k.ID)
	if !ok {
		id = "nil"
	}
	return ModelPrefix(k.Model) + id
}

// ModelPrefix returns the key prefix shared by every cached record of a model.
// The trailing separator keeps "Task" from matching "TaskComment" entries.
func ModelPrefix(model string) string {
	return model + ":"
}
