// Package cache provides the bounded, TTL-governed caches used by the
// retrieval pipeline.
//
// Each cache has two tiers: an in-process [Memory] tier with a soft entry cap
// and an optional distributed [Redis] tier. [Layered] combines them; a
// distributed-tier failure is logged and the memory tier answers alone.
// [Typed] adds JSON payload encoding on top.
//
// Two caches are built from these parts: [RetrievalCache] stores ids-only
// document references and [CardCache] stores composed cards.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache: miss")

// Tier is one storage layer of a cache.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
