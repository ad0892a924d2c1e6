// Package lock provides a named, expiring mutual-exclusion token shared by
// every instance of the service through a store.LockStore.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcclellann/fredInvest/pkg/store"
)

const (
	DefaultKey = "investment_payout_lock"
	DefaultTTL = 10 * time.Minute

	releaseTimeout = 5 * time.Second
)

// Manager acquires and releases locks. A holder that dies leaves a record that
// becomes reclaimable once its TTL elapses; no heartbeat is required.
type Manager struct {
	store  store.LockStore
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a manager over s. A non-positive ttl selects DefaultTTL.
func NewManager(s store.LockStore, ttl time.Duration, logger *slog.Logger, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{store: s, ttl: ttl, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the configured lock lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire tries to take key. It returns false when another holder has a live
// lock or when the store cannot be reached; neither case is an error.
func (m *Manager) Acquire(ctx context.Context, key string) bool {
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)

	inserted, err := m.store.InsertLock(ctx, key, expiresAt)
	if err != nil {
		m.logger.WarnContext(ctx, "lock acquire failed",
			"module", "lock", "operation", "acquire", "outcome", "failure", "key", key, "error", err)
		return false
	}
	if inserted {
		m.logger.DebugContext(ctx, "lock acquired",
			"module", "lock", "operation", "acquire", "outcome", "success", "key", key, "expires_at", expiresAt)
		return true
	}

	reclaimed, err := m.store.ReplaceExpiredLock(ctx, key, now, expiresAt)
	if err != nil {
		m.logger.WarnContext(ctx, "lock reclaim failed",
			"module", "lock", "operation", "reclaim", "outcome", "failure", "key", key, "error", err)
		return false
	}
	if reclaimed {
		m.logger.InfoContext(ctx, "stale lock reclaimed",
			"module", "lock", "operation", "reclaim", "outcome", "success", "key", key, "expires_at", expiresAt)
		return true
	}

	m.logger.InfoContext(ctx, "lock held by another instance",
		"module", "lock", "operation", "acquire", "outcome", "contended", "key", key)
	return false
}

// Release deletes key. Failures are logged only: the record self-heals once its TTL passes.
func (m *Manager) Release(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := m.store.DeleteLock(ctx, key); err != nil {
		m.logger.ErrorContext(ctx, "lock release failed",
			"module", "lock", "operation", "release", "outcome", "failure", "key", key, "error", err)
		return
	}
	m.logger.DebugContext(ctx, "lock released",
		"module", "lock", "operation", "release", "outcome", "success", "key", key)
}
