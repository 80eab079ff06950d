// Package runlock serialises processing runs for one user across goroutines
// and, with Redis, across processes.
package runlock

import (
	"context"
	"sync"

	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/errors"
)

// ErrLocked is returned when another run holds the user's lock.
var ErrLocked = errors.NewStd("run already in progress for user")

// Locker hands out per-user run locks.
type Locker interface {
	// TryLock acquires the lock for userID without waiting. The returned
	// function releases it and is safe to call more than once.
	TryLock(ctx context.Context, userID string) (unlock func(), err error)

	// Close releases backend resources.
	Close() error
}

// New creates the locker selected by settings.Type.
func New(ctx context.Context, settings *conf.LockSettings) (Locker, error) {
	switch settings.Type {
	case "redis":
		return NewRedisLocker(ctx, settings)
	case "memory", "":
		return NewMemoryLocker(), nil
	default:
		return nil, errors.Newf("unsupported lock type %q", settings.Type).
			Component("runlock").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// MemoryLocker locks users within one process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (m *MemoryLocker) TryLock(_ context.Context, userID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[userID]; ok {
		return nil, lockedError(userID)
	}
	m.held[userID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, userID)
			m.mu.Unlock()
		})
	}, nil
}

// Close implements Locker.
func (m *MemoryLocker) Close() error {
	return nil
}

func lockedError(userID string) error {
	return errors.New(ErrLocked).
		Component("runlock").
		Category(errors.CategoryConflict).
		Context("user_id", userID).
		Build()
}
