package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// INVOCATION LOCK
// ══════════════════════════════════════════════════════════════════════════════

// lockKey guards the combined scheduled-tasks cycle across worker replicas.
const lockKey = "lock:scheduled_tasks"

// ErrNotLockOwner is returned when releasing a lock whose token no longer
// matches: the TTL expired and another replica took over.
var ErrNotLockOwner = errors.New("redis: invocation lock held by another owner")

// InvocationLock is a best-effort distributed mutex around one scheduler
// cycle. A uuid token ties each acquisition to its owner so an expired lock
// is never released out from under the replica that re-acquired it.
type InvocationLock struct {
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger

	token string
}

// NewInvocationLock creates an invocation lock with the given TTL. The TTL is
// the upper bound on one cycle's duration; a crashed holder frees the lock
// after it elapses.
func NewInvocationLock(cache *Cache, ttl time.Duration, logger *slog.Logger) *InvocationLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvocationLock{cache: cache, ttl: ttl, logger: logger}
}

// Acquire attempts to take the lock. It reports false, without error, when
// another replica holds it.
func (l *InvocationLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()

	ok, err := l.cache.SetNX(ctx, lockKey, token, l.ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	l.token = token
	return true, nil
}

// Release frees the lock if this instance still owns it.
func (l *InvocationLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""

	current, err := l.cache.GetString(ctx, lockKey)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			// TTL expired; nothing to release.
			return nil
		}
		return err
	}
	if current != token {
		return ErrNotLockOwner
	}

	return l.cache.Delete(ctx, lockKey)
}
