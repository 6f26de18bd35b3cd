// Package cache provides the byte-oriented TTL caches used for catalog read-through.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque payloads under string keys. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
