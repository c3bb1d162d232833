// Package cache provides the TTL key/value store used to memoise signed
// provider URLs and retrieval lookups.
package cache

import (
	"context"
	"time"
)

// Cache is a namespaced TTL store. Values expire after the TTL supplied at
// write time and lookups past that deadline behave as misses.
type Cache interface {
	// Get returns the stored value and true while the entry is live.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key for ttl. A non-positive ttl removes the key.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Invalidate removes a single key. Removing an absent key is not an error.
	Invalidate(ctx context.Context, key string) error
	// InvalidatePrefix removes every key beginning with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
	Close() error
}
