// Package cachestore provides the tagged key/value stores behind the docs
// cache: an in-process map for single instances and tests, and Redis for
// deployments with several API replicas.
package cachestore

import (
	"context"
	"time"
)

// Store is a byte cache with per-entry TTL and tag based invalidation.
// Get reports a miss with ok == false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	Invalidate(ctx context.Context, tag string) error
	Close() error
}
