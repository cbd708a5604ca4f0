package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// pruneEvery bounds how often expired entries are swept.
const pruneEvery = time.Second

// Memory is the in-process tier. Expired entries are pruned lazily on reads
// and writes; when the entry count exceeds the soft cap the oldest entries
// are evicted. It is safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	items      *gocache.Cache
	ttl        time.Duration
	maxEntries int
	lastPrune  time.Time
}

var _ Tier = (*Memory)(nil)

// NewMemory returns a memory tier with the given entry TTL and soft cap. A
// non-positive maxEntries disables the cap.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	return &Memory{
		// no janitor goroutine; pruning is opportunistic
		items:      gocache.New(ttl, 0),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Get implements [Tier].
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(false)
	v, ok := m.items.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return v.([]byte), nil
}

// Set implements [Tier]. A non-positive ttl uses the tier's default.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items.Set(key, slices.Clone(value), ttl)
	m.pruneLocked(true)
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// pruned.
func (m *Memory) Len() int {
	return m.items.ItemCount()
}

// pruneLocked sweeps expired entries (at most once per pruneEvery unless
// force) and enforces the soft cap by evicting the entries that expire
// soonest, i.e. the oldest writes.
func (m *Memory) pruneLocked(force bool) {
	now := time.Now()
	if force || now.Sub(m.lastPrune) >= pruneEvery {
		m.items.DeleteExpired()
		m.lastPrune = now
	}
	if m.maxEntries <= 0 {
		return
	}
	n := m.items.ItemCount()
	if n <= m.maxEntries {
		return
	}
	type aged struct {
		key string
		exp int64
	}
	all := make([]aged, 0, n)
	for k, it := range m.items.Items() {
		all = append(all, aged{k, it.Expiration})
	}
	slices.SortFunc(all, func(a, b aged) int {
		if a.exp != b.exp {
			if a.exp < b.exp {
				return -1
			}
			return 1
		}
		if a.key < b.key {
			return -1
		}
		if a.key > b.key {
			return 1
		}
		return 0
	})
	for _, a := range all[:n-m.maxEntries] {
		m.items.Delete(a.key)
	}
}
