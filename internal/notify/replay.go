package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SentLog remembers which order notifications already reached the customer,
// keyed by DeliveryKey.
type SentLog interface {
	// Claim marks key as sent and reports false when it was already marked.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release unmarks key after a failed send so a retry can claim it again.
	Release(ctx context.Context, key string) error
}

// RedisSentLog stores one key per delivery under Prefix ("wa:sent" when
// empty). A nil client claims everything, which disables the guard.
type RedisSentLog struct {
	Client *redis.Client
	Prefix string
}

func (l RedisSentLog) key(k string) string {
	prefix := l.Prefix
	if prefix == "" {
		prefix = "wa:sent"
	}
	return prefix + ":" + k
}

// Claim records the send time under key.
func (l RedisSentLog) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.Client == nil {
		return true, nil
	}
	return l.Client.SetNX(ctx, l.key(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Release drops the mark for key.
func (l RedisSentLog) Release(ctx context.Context, key string) error {
	if l.Client == nil {
		return nil
	}
	return l.Client.Del(ctx, l.key(key)).Err()
}
