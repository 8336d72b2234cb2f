// Copyright (c) 2026 Mongate. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package cache defines the pluggable result-cache contract and its Redis
implementation.

Read queries may be served from cache keyed by the deterministic pipeline
bytes; any write to a collection invalidates that collection's entries.
Deployments without Redis run with the no-op cache.
*/
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/mongate/internal/platform/constants"
)

// # Contract

// Cache is the pluggable result cache.
type Cache interface {
	// Get returns the cached payload for key, if present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores payload under key with a TTL.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// InvalidateCollection drops every entry belonging to a collection.
	InvalidateCollection(ctx context.Context, collection string) error
}

// Key builds a cache key from a collection and the deterministic pipeline
// bytes. Identical queries hash identically because the pipeline builder
// guarantees byte-identical output for identical inputs.
func Key(collection string, pipelineBytes []byte) string {
	sum := sha256.Sum256(pipelineBytes)
	return constants.RedisPrefixResultCache + collection + ":" + hex.EncodeToString(sum[:16])
}

// # No-op Implementation

// Noop satisfies [Cache] without storing anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) InvalidateCollection(context.Context, string) error       { return nil }

// # Redis Implementation

// Redis caches results in Redis with per-entry TTLs.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed cache.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get implements [Cache].
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Set implements [Cache].
func (r *Redis) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, payload, ttl).Err()
}

// InvalidateCollection implements [Cache] by scanning the collection's key
// prefix. SCAN keeps Redis responsive; invalidation is best-effort anyway.
func (r *Redis) InvalidateCollection(ctx context.Context, collection string) error {
	pattern := constants.RedisPrefixResultCache + collection + ":*"

	iter := r.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
