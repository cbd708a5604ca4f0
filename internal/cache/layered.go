package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Stats are the lookup counters of a [Layered] cache.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Observer is notified of every lookup. Used to feed metrics.
type Observer func(cache string, hit bool)

// Layered reads the memory tier first and then the distributed tier,
// back-filling memory on a distributed hit. Writes go to both tiers.
type Layered struct {
	name     string
	mem      *Memory
	remote   Tier
	ttl      time.Duration
	observer Observer

	hits   atomic.Int64
	misses atomic.Int64
}

// LayeredOption configures a [Layered] cache.
type LayeredOption func(*Layered)

// WithRemote attaches a distributed tier.
func WithRemote(t Tier) LayeredOption {
	return func(l *Layered) { l.remote = t }
}

// WithObserver registers a lookup observer.
func WithObserver(o Observer) LayeredOption {
	return func(l *Layered) { l.observer = o }
}

// NewLayered returns a cache named name whose entries live for ttl. The
// memory tier holds at most maxEntries entries (soft cap).
func NewLayered(name string, ttl time.Duration, maxEntries int, opts ...LayeredOption) *Layered {
	l := &Layered{
		name: name,
		mem:  NewMemory(ttl, maxEntries),
		ttl:  ttl,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Name returns the cache name.
func (l *Layered) Name() string { return l.name }

// Get returns the raw payload stored under key.
func (l *Layered) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, err := l.mem.Get(ctx, key); err == nil {
		l.record(true)
		return v, true
	}
	if l.remote != nil {
		v, err := l.remote.Get(ctx, key)
		switch {
		case err == nil:
			_ = l.mem.Set(ctx, key, v, l.ttl)
			l.record(true)
			return v, true
		case !errors.Is(err, ErrCacheMiss):
			slog.Warn("cache: distributed tier get failed, using memory tier", "cache", l.name, "err", err)
		}
	}
	l.record(false)
	return nil, false
}

// Set stores value under key in both tiers.
func (l *Layered) Set(ctx context.Context, key string, value []byte) {
	_ = l.mem.Set(ctx, key, value, l.ttl)
	if l.remote == nil {
		return
	}
	if err := l.remote.Set(ctx, key, value, l.ttl); err != nil {
		slog.Warn("cache: distributed tier set failed", "cache", l.name, "err", err)
	}
}

// Stats returns the lookup counters.
func (l *Layered) Stats() Stats {
	return Stats{Hits: l.hits.Load(), Misses: l.misses.Load(), Entries: l.mem.Len()}
}

func (l *Layered) record(hit bool) {
	if hit {
		l.hits.Add(1)
	} else {
		l.misses.Add(1)
	}
	if l.observer != nil {
		l.observer(l.name, hit)
	}
}

// Typed stores JSON-encoded values of type T in a [Layered] cache.
type Typed[T any] struct {
	l *Layered
}

// NewTyped wraps l.
func NewTyped[T any](l *Layered) Typed[T] {
	return Typed[T]{l: l}
}

// Get decodes the value under key. A payload that fails to decode counts as
// a miss.
func (t Typed[T]) Get(ctx context.Context, key string) (T, bool) {
	var v T
	raw, ok := t.l.Get(ctx, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Warn("cache: undecodable entry ignored", "cache", t.l.name, "err", err)
		var zero T
		return zero, false
	}
	return v, true
}

// Set encodes v and stores it under key.
func (t Typed[T]) Set(ctx context.Context, key string, v T) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("cache: unencodable entry skipped", "cache", t.l.name, "err", err)
		return
	}
	t.l.Set(ctx, key, raw)
}

// Stats returns the underlying cache counters.
func (t Typed[T]) Stats() Stats { return t.l.Stats() }
