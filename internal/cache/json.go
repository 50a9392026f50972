package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// JSON is a read-through helper storing JSON documents in Redis. A nil client
// or non-positive TTL disables caching.
type JSON struct {
	R   *redis.Client
	TTL time.Duration
}

// Get decodes the cached value at key into dst and reports whether it was
// found.
func (c JSON) Get(ctx context.Context, key string, dst any) bool {
	if c.R == nil || c.TTL <= 0 {
		return false
	}
	data, err := c.R.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// Set stores value at key. Failures are ignored; the caller already holds the
// fresh value.
func (c JSON) Set(ctx context.Context, key string, value any) {
	if c.R == nil || c.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.R.Set(ctx, key, data, c.TTL).Err()
}

// Key joins parts with ':'.
func Key(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// Branch names the branch segment of a key; an empty branch covers every
// outlet.
func Branch(branchID string) string {
	if strings.TrimSpace(branchID) == "" {
		return "all"
	}
	return branchID
}
