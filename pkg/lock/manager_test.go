package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mcclellann/fredInvest/pkg/store/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAcquireIsMutuallyExclusive(t *testing.T) {
	s := memory.New()
	a := NewManager(s, time.Minute, quietLogger())
	b := NewManager(s, time.Minute, quietLogger())

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, m := range []*Manager{a, b} {
		wg.Add(1)
		go func(i int, m *Manager) {
			defer wg.Done()
			results[i] = m.Acquire(context.Background(), DefaultKey)
		}(i, m)
	}
	wg.Wait()

	if results[0] == results[1] {
		t.Fatalf("Expected exactly one grant, got %v", results)
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	s := memory.New()
	clock := &fixedClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	crashed := NewManager(s, 10*time.Minute, quietLogger(), WithClock(clock.Now))
	survivor := NewManager(s, 10*time.Minute, quietLogger(), WithClock(clock.Now))

	if !crashed.Acquire(context.Background(), DefaultKey) {
		t.Fatal("Expected first acquire to succeed")
	}
	if survivor.Acquire(context.Background(), DefaultKey) {
		t.Fatal("Live lock must not be granted twice")
	}

	clock.Advance(11 * time.Minute)
	if !survivor.Acquire(context.Background(), DefaultKey) {
		t.Fatal("Expected stale lock to be reclaimed")
	}
	exp, ok := s.LockExpiry(DefaultKey)
	if !ok || !exp.Equal(clock.Now().Add(10*time.Minute)) {
		t.Errorf("Expected expiry to be extended, got %v", exp)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	s := memory.New()
	m := NewManager(s, time.Minute, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())

	if !m.Acquire(ctx, DefaultKey) {
		t.Fatal("Expected acquire to succeed")
	}
	cancel()
	m.Release(ctx, DefaultKey)

	if _, held := s.LockExpiry(DefaultKey); held {
		t.Fatal("Release must delete the record even with a cancelled context")
	}
	if !m.Acquire(context.Background(), DefaultKey) {
		t.Fatal("Expected acquire after release to succeed")
	}
}

type brokenLockStore struct{}

func (brokenLockStore) InsertLock(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("store down")
}

func (brokenLockStore) ReplaceExpiredLock(context.Context, string, time.Time, time.Time) (bool, error) {
	return false, errors.New("store down")
}

func (brokenLockStore) DeleteLock(context.Context, string) error {
	return errors.New("store down")
}

func TestStoreFailuresAreNotGranted(t *testing.T) {
	m := NewManager(brokenLockStore{}, time.Minute, quietLogger())
	if m.Acquire(context.Background(), DefaultKey) {
		t.Fatal("Expected unavailable store to be treated as not granted")
	}
	// Must not panic or block.
	m.Release(context.Background(), DefaultKey)
}
