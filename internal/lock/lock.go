// Package lock provides short-lived mutual exclusion keyed by string. Redis
// backs it in multi-instance deployments; a process-local map is used when
// no Redis address is configured.
package lock

import (
	"context"
	"errors"
	"time"
)

var ErrNotConfigured = errors.New("lock client not configured")

type Locker interface {
	// TryLock never blocks. ok is false when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// WithLock runs fn while holding key. acquired is false when the lock is held
// elsewhere or the backend failed, and fn did not run. Release failures are
// dropped because the ttl frees the key anyway.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) (acquired bool, err error) {
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, key, token)
	}()
	return true, fn(ctx)
}

func validate(key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return errors.New("lock ttl must be positive")
	}
	return nil
}
