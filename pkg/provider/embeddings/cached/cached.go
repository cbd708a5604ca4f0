// Package cached wraps an embeddings.Provider with an in-process TTL cache.
//
// Utterances on a call line repeat a great deal ("분실 신고", "재발급"), so
// the wrapper keeps every computed vector for a configurable TTL, collapses
// concurrent requests for the same text into one backend call, and can be
// warmed at startup with a list of frequent queries.
package cached

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/embeddings"
)

// DefaultTTL is used when New is given a non-positive ttl.
const DefaultTTL = 6 * time.Hour

// Provider is a caching decorator around another embeddings.Provider.
type Provider struct {
	inner embeddings.Provider
	items *gocache.Cache
	group singleflight.Group

	observer func(hit bool)
	hits     atomic.Int64
	misses   atomic.Int64
}

var _ embeddings.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithObserver registers a callback invoked on every lookup.
func WithObserver(fn func(hit bool)) Option {
	return func(p *Provider) { p.observer = fn }
}

// New wraps inner. Cached vectors expire after ttl.
func New(inner embeddings.Provider, ttl time.Duration, opts ...Option) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	p := &Provider{
		inner: inner,
		items: gocache.New(ttl, ttl/2),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := p.items.Get(key); ok {
		p.record(true)
		return v.([]float32), nil
	}
	p.record(false)

	v, err, _ := p.group.Do(key, func() (any, error) {
		vec, err := p.inner.Embed(ctx, strings.TrimSpace(text))
		if err != nil {
			return nil, err
		}
		p.items.SetDefault(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch implements embeddings.Provider. Only the texts not already
// cached are sent to the backend.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missText []string
	for i, t := range texts {
		if v, ok := p.items.Get(cacheKey(t)); ok {
			p.record(true)
			out[i] = v.([]float32)
			continue
		}
		p.record(false)
		missIdx = append(missIdx, i)
		missText = append(missText, strings.TrimSpace(t))
	}
	if len(missText) == 0 {
		return out, nil
	}

	vecs, err := p.inner.EmbedBatch(ctx, missText)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missText) {
		return nil, fmt.Errorf("cached embeddings: backend returned %d vectors for %d texts", len(vecs), len(missText))
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		p.items.SetDefault(cacheKey(texts[i]), vecs[j])
	}
	return out, nil
}

// Warmup embeds texts that are not cached yet. Blank and duplicate entries
// are skipped. A backend failure is logged and returned; the cache keeps
// whatever was stored before.
func (p *Provider) Warmup(ctx context.Context, texts []string) error {
	seen := make(map[string]struct{}, len(texts))
	var todo []string
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := p.items.Get(cacheKey(t)); !ok {
			todo = append(todo, t)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	start := time.Now()
	vecs, err := p.inner.EmbedBatch(ctx, todo)
	if err != nil {
		slog.Warn("embeddings: warmup failed", "texts", len(todo), "err", err)
		return fmt.Errorf("cached embeddings: warmup: %w", err)
	}
	for i, v := range vecs {
		if i < len(todo) && v != nil {
			p.items.SetDefault(cacheKey(todo[i]), v)
		}
	}
	slog.Info("embeddings: warmup complete", "texts", len(todo), "duration", time.Since(start))
	return nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.inner.Dimensions() }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.inner.ModelID() }

// Len returns the number of cached vectors.
func (p *Provider) Len() int { return p.items.ItemCount() }

// Stats returns the lookup hit and miss counts.
func (p *Provider) Stats() (hits, misses int64) {
	return p.hits.Load(), p.misses.Load()
}

func (p *Provider) record(hit bool) {
	if hit {
		p.hits.Add(1)
	} else {
		p.misses.Add(1)
	}
	if p.observer != nil {
		p.observer(hit)
	}
}

func cacheKey(text string) string {
	return strings.TrimSpace(text)
}
