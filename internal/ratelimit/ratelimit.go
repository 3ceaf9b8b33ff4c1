/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ratelimit provides sliding-window limiters for webhook ingress.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crowdpen/payd/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for key fits the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// New returns a Redis limiter when client is set so replicas share the
// budget, and an in-process limiter otherwise.
func New(cfg config.WebhookRateLimitConfig, client redis.UniversalClient) Limiter {
	limit := cfg.Limit
	if limit <= 0 {
		limit = config.DEFAULT_WEBHOOK_RATE_LIMIT
	}
	windowSec := cfg.WindowSec
	if windowSec <= 0 {
		windowSec = config.DEFAULT_WEBHOOK_RATE_WINDOW_SEC
	}
	window := time.Duration(windowSec) * time.Second

	if client != nil {
		return NewRedisLimiter(client, "payd:ratelimit:webhook", limit, window)
	}
	return NewMemoryLimiter(limit, window)
}

// MemoryLimiter is a sliding-window counter: the previous fixed window's
// count is weighted by how much of it still overlaps the sliding window.
type MemoryLimiter struct {
	limit     int
	window    time.Duration
	now       func() time.Time
	mu        sync.Mutex
	items     map[string]*windowCounter
	lastSweep time.Time
}

type windowCounter struct {
	start    time.Time
	current  int
	previous int
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		items:  make(map[string]*windowCounter),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now().UTC()
	windowStart := now.Truncate(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	c := l.items[key]
	switch {
	case c == nil:
		c = &windowCounter{start: windowStart}
		l.items[key] = c
	case c.start.Equal(windowStart):
	case c.start.Add(l.window).Equal(windowStart):
		c.previous, c.current, c.start = c.current, 0, windowStart
	default:
		c.previous, c.current, c.start = 0, 0, windowStart
	}

	overlap := 1 - float64(now.Sub(windowStart))/float64(l.window)
	estimate := float64(c.previous)*overlap + float64(c.current)
	if estimate >= float64(l.limit) {
		return false, nil
	}
	c.current++
	return true, nil
}

// sweep drops counters idle for two windows. It runs at most once per
// window.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-2 * l.window)
	for key, c := range l.items {
		if c.start.Before(cutoff) {
			delete(l.items, key)
		}
	}
}

// slidingLogScript keeps one sorted-set member per admitted request scored
// by its timestamp in milliseconds.
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter is a sliding log shared by every process using the same
// Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())
	allowed, err := slidingLogScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		now, l.window.Milliseconds(), l.limit, member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return allowed == 1, nil
}
