// Package ratelimit 提供基于固定窗口的请求限流
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const window = time.Minute

// Result 单次限流判定结果
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter 限流器
type Limiter interface {
	// Allow 判定 key 在当前窗口内是否还允许一次请求
	Allow(ctx context.Context, key string) (*Result, error)
}

// RedisLimiter 基于 Redis 的限流器，多实例共享计数
type RedisLimiter struct {
	client    *redis.Client
	perMinute int
}

// NewRedisLimiter 创建 Redis 限流器
func NewRedisLimiter(client *redis.Client, perMinute int) *RedisLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RedisLimiter{client: client, perMinute: perMinute}
}

// Allow 判定请求是否放行，Redis 故障时放行
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		log.Printf("Warning: rate limiter unavailable, allowing request: %v", err)
		return &Result{Allowed: true}, nil
	}

	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			log.Printf("Warning: failed to set rate limit window for %s: %v", key, err)
		}
	}

	if count <= int64(l.perMinute) {
		return &Result{Allowed: true}, nil
	}

	retryAfter := window
	if ttl, err := l.client.TTL(ctx, redisKey).Result(); err == nil && ttl > 0 {
		retryAfter = ttl
	}
	return &Result{Allowed: false, RetryAfter: retryAfter}, nil
}

// MemoryLimiter 进程内限流器，单实例部署或无 Redis 时使用
type MemoryLimiter struct {
	perMinute int
	nowFunc   func() time.Time

	mu        sync.Mutex
	windows   map[string]*memoryWindow
	lastSweep time.Time
}

type memoryWindow struct {
	count   int
	expires time.Time
}

// NewMemoryLimiter 创建进程内限流器
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &MemoryLimiter{
		perMinute: perMinute,
		nowFunc:   time.Now,
		windows:   make(map[string]*memoryWindow),
	}
}

// Allow 判定请求是否放行
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	w, ok := l.windows[key]
	if !ok || now.After(w.expires) {
		l.windows[key] = &memoryWindow{count: 1, expires: now.Add(window)}
		return &Result{Allowed: true}, nil
	}

	w.count++
	if w.count <= l.perMinute {
		return &Result{Allowed: true}, nil
	}

	return &Result{Allowed: false, RetryAfter: w.expires.Sub(now)}, nil
}

// sweepLocked 清理过期窗口，每个窗口周期至多执行一次
func (l *MemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	l.lastSweep = now
	for key, w := range l.windows {
		if now.After(w.expires) {
			delete(l.windows, key)
		}
	}
}
