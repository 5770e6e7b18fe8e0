// Package sessioncache defines the key-value store used by the
// authentication resolver to avoid repeated identity-provider calls.
// Entries are plain strings with per-entry expiry at second
// granularity; the resolver is the only writer.
package sessioncache

import (
	"context"
	"time"
)

// Cache is the minimal contract the resolver needs: read, write with
// TTL, and TTL refresh. Implementations must be safe for concurrent
// use by multiple goroutines.
type Cache interface {
	// Get returns the value stored under key. The second return is
	// false when the key is absent or expired; error is reserved for
	// storage-system failures.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetEx stores value under key with the given time-to-live,
	// replacing any previous entry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	// Expire resets the time-to-live of an existing entry. Refreshing
	// a key that no longer exists is not an error.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Close releases any resources held by the backend.
	Close() error
}
