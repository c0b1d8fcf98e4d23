package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pod-optimizer/internal/kv"
)

const keyPrefix = "processing_lock:"

// Manager provides TTL-based mutual exclusion per (feed, episode). Acquisition
// is a single atomic SetNX, so there is no acquire-then-check race; the TTL is
// the only safety net against a holder that crashed without releasing.
type Manager struct {
	store kv.Store
}

func NewManager(store kv.Store) *Manager {
	return &Manager{store: store}
}

// Key builds the lock key for one episode of one feed.
func Key(feedURL, episodeKey string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, feedURL, episodeKey)
}

// TryAcquire attempts to take the lock for the given holder and reports
// whether it succeeded. The lock auto-expires after ttl.
func (m *Manager) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	return m.store.SetNX(ctx, key, []byte(holder), ttl)
}

// Release drops the lock regardless of holder.
func (m *Manager) Release(ctx context.Context, key string) error {
	return m.store.Delete(ctx, key)
}

// Holder returns the id stored by the current lock holder, or "" when the
// lock is free.
func (m *Manager) Holder(ctx context.Context, key string) (string, error) {
	value, err := m.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// IsHeld reports whether the lock is currently taken.
func (m *Manager) IsHeld(ctx context.Context, key string) (bool, error) {
	holder, err := m.Holder(ctx, key)
	return holder != "", err
}
