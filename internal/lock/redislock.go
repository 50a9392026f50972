package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when another holder kept the lock for longer than
// Locker.MaxWait.
var ErrBusy = errors.New("lock: held by another worker")

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was taken by another worker is left alone.
var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// Locker is a single-instance Redis mutex keyed by resource, such as one
// order notification. Keys are namespaced under Prefix ("lock" when empty).
type Locker struct {
	R            *redis.Client
	Prefix       string
	RetryBackoff time.Duration
	// MaxWait bounds how long WithLock polls for a busy key. Zero waits
	// until ctx ends.
	MaxWait time.Duration
}

// WithLock runs fn while holding key. The lock expires after ttl even if the
// holder dies and is released as soon as fn returns.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	full := l.key(key)
	token := uuid.NewString()
	if err := l.acquire(ctx, full, token, ttl); err != nil {
		return err
	}
	defer func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.R, []string{full}, token).Err()
	}()
	return fn(ctx)
}

func (l Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) error {
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	var deadline <-chan time.Time
	if l.MaxWait > 0 {
		t := time.NewTimer(l.MaxWait)
		defer t.Stop()
		deadline = t.C
	}
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		wait := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		case <-deadline:
			wait.Stop()
			return fmt.Errorf("%w: %s", ErrBusy, key)
		case <-wait.C:
		}
	}
}

func (l Locker) key(k string) string {
	if l.Prefix == "" {
		return "lock:" + k
	}
	return l.Prefix + ":" + k
}
