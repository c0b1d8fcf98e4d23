package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the key-value contract shared by the job ledger, the lock manager
// and the feed cache. Per-key operations are atomic; there are no multi-key
// transactions. A zero TTL means no expiration.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// SetNX sets the key only if it does not already exist and reports
	// whether it was set.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	RPush(ctx context.Context, key string, value []byte) error
	LRange(ctx context.Context, key string) ([][]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Keys returns all keys matching a glob pattern such as "job_status:*".
	Keys(ctx context.Context, pattern string) ([]string, error)
}
