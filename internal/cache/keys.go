package cache

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// NormalizeQuery lowercases q and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// RetrievalKey identifies a retrieval result.
type RetrievalKey struct {
	Query   string   `json:"q"`
	Route   string   `json:"route"`
	DBRoute string   `json:"db_route"`
	Filters []string `json:"filters"`
	Mode    string   `json:"mode"`
	TopK    int      `json:"top_k"`
}

// String serializes the key to JSON. Filters are sorted and the query is
// normalized, so equal inputs always give equal keys.
func (k RetrievalKey) String() string {
	k.Query = NormalizeQuery(k.Query)
	k.Filters = slices.Clone(k.Filters)
	slices.Sort(k.Filters)
	if k.Filters == nil {
		k.Filters = []string{}
	}
	b, _ := json.Marshal(k)
	return string(b)
}

// RetrievalEntry is one cached retrieval: the route the documents were
// found under, which differs from the key's route after a route flip, and
// their references.
type RetrievalEntry struct {
	Route string         `json:"route"`
	Refs  []types.DocRef `json:"refs"`
}

// RetrievalCache maps a [RetrievalKey] to a [RetrievalEntry]. Callers
// re-fetch document contents by (table, id) on every hit.
type RetrievalCache struct {
	typed Typed[RetrievalEntry]
}

// NewRetrievalCache wraps l.
func NewRetrievalCache(l *Layered) *RetrievalCache {
	return &RetrievalCache{typed: NewTyped[RetrievalEntry](l)}
}

// Get returns the entry cached for k.
func (c *RetrievalCache) Get(ctx context.Context, k RetrievalKey) (RetrievalEntry, bool) {
	return c.typed.Get(ctx, k.String())
}

// Put stores route and the references of docs under k. Document contents
// are never stored.
func (c *RetrievalCache) Put(ctx context.Context, k RetrievalKey, route string, docs []types.Document) {
	e := RetrievalEntry{Route: route, Refs: make([]types.DocRef, len(docs))}
	for i, d := range docs {
		e.Refs[i] = d.Ref()
	}
	c.typed.Set(ctx, k.String(), e)
}

// Stats returns the lookup counters.
func (c *RetrievalCache) Stats() Stats { return c.typed.Stats() }

// CardKey identifies a card-composition result.
type CardKey struct {
	Model         string   `json:"model"`
	TopN          int      `json:"top_n"`
	Route         string   `json:"route"`
	PromptVersion string   `json:"prompt_version"`
	Template      string   `json:"template"`
	Query         string   `json:"q"`
	DocIDs        []string `json:"doc_ids"`
}

// String serializes the key to JSON. Doc ids keep their order, since the
// cached guide script was written for the first document. ok is false when
// the key is unusable: no doc ids, or a blank one.
func (k CardKey) String() (key string, ok bool) {
	if len(k.DocIDs) == 0 {
		return "", false
	}
	for _, id := range k.DocIDs {
		if strings.TrimSpace(id) == "" {
			return "", false
		}
	}
	k.Query = NormalizeQuery(k.Query)
	k.Template = NormalizeQuery(k.Template)
	b, _ := json.Marshal(k)
	return string(b), true
}

// CardCache maps a [CardKey] to a composed entry of type E. Lookups with an
// unusable key always miss and are not counted.
type CardCache[E any] struct {
	typed Typed[E]
}

// NewCardCache wraps l.
func NewCardCache[E any](l *Layered) *CardCache[E] {
	return &CardCache[E]{typed: NewTyped[E](l)}
}

// Get returns the entry stored under k.
func (c *CardCache[E]) Get(ctx context.Context, k CardKey) (E, bool) {
	key, ok := k.String()
	if !ok {
		var zero E
		return zero, false
	}
	return c.typed.Get(ctx, key)
}

// Put stores e under k. An unusable key is ignored.
func (c *CardCache[E]) Put(ctx context.Context, k CardKey, e E) {
	if key, ok := k.String(); ok {
		c.typed.Set(ctx, key, e)
	}
}

// Stats returns the lookup counters.
func (c *CardCache[E]) Stats() Stats { return c.typed.Stats() }
