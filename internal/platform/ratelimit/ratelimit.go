// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ratelimit provides per-subject request accounting against per-role
ceilings.

Two implementations share one interface:

  - Memory: token buckets (x/time/rate) for single-instance deployments.
  - Redis: fixed-window counters shared across instances.

Both are safe under contention: the memory limiter holds a short lock per
bucket map access, and the Redis limiter relies on atomic INCR.
*/
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/taibuivan/mongate/internal/platform/config"
	"github.com/taibuivan/mongate/internal/platform/constants"
)

// # Interface

// Limiter answers whether one more request fits a subject's ceiling.
type Limiter interface {
	// Allow accounts one request for key under limit. When the bucket is
	// exhausted it returns false and the retry-after hint.
	Allow(ctx context.Context, key string, limit config.RateLimit) (bool, time.Duration, error)
}

// # In-Memory Limiter

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Memory is a per-process token-bucket limiter.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

// NewMemory creates a Memory limiter and starts its idle-bucket cleanup,
// which stops when ctx is cancelled.
func NewMemory(ctx context.Context) *Memory {
	m := &Memory{buckets: map[string]*memoryBucket{}}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.mu.Lock()
				for key, bucket := range m.buckets {
					if time.Since(bucket.lastSeen) > 3*time.Minute {
						delete(m.buckets, key)
					}
				}
				m.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return m
}

// Allow implements [Limiter].
func (m *Memory) Allow(_ context.Context, key string, limit config.RateLimit) (bool, time.Duration, error) {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return true, 0, nil
	}

	m.mu.Lock()
	bucket, found := m.buckets[key]
	if !found {
		perSecond := float64(limit.Requests) / limit.Window.Seconds()
		bucket = &memoryBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), limit.Requests)}
		m.buckets[key] = bucket
	}
	bucket.lastSeen = time.Now()
	allowed := bucket.limiter.Allow()
	m.mu.Unlock()

	if allowed {
		return true, 0, nil
	}
	// The bucket refills continuously; one request's worth of wait is the
	// honest hint.
	wait := time.Duration(float64(time.Second) * limit.Window.Seconds() / float64(limit.Requests))
	return false, wait, nil
}

// # Redis Limiter

// Redis is a fixed-window limiter shared across gateway instances.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Allow implements [Limiter] with an INCR+EXPIRE fixed window.
func (r *Redis) Allow(ctx context.Context, key string, limit config.RateLimit) (bool, time.Duration, error) {
	if limit.Requests <= 0 || limit.Window <= 0 {
		return true, 0, nil
	}

	bucketKey := constants.RedisPrefixRateLimit + key

	count, err := r.client.Incr(ctx, bucketKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if count == 1 {
		// First hit opens the window.
		if err := r.client.Expire(ctx, bucketKey, limit.Window).Err(); err != nil {
			return false, 0, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	if count <= int64(limit.Requests) {
		return true, 0, nil
	}

	ttl, err := r.client.TTL(ctx, bucketKey).Result()
	if err != nil || ttl < 0 {
		ttl = limit.Window
	}
	return false, ttl, nil
}
