package card

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/cache"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/llm"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 700
)

// sectionTerms rank card-info documents before the LLM slice.
var sectionTerms = []string{
	"연회비", "혜택", "할인", "적립", "캐시백", "실적", "전월", "한도", "발급", "신청",
	"대상", "서류", "교통", "통신", "주유", "해외", "포인트", "환급", "다자녀",
}

// Input is everything one composition needs. The composer never reads
// session state.
type Input struct {
	Query    string
	Decision router.Decision
	Docs     []types.Document

	// Keywords is the query-keyword list copied onto every card.
	Keywords []string
}

// Result is the composed card set.
type Result struct {
	Current []Card
	Next    []Card

	// GuidanceScript is set on a cache hit when the guide script of the
	// original composition was remembered with the cards.
	GuidanceScript string

	Cached bool
}

// Cards returns the current and next cards in response order.
func (r Result) Cards() []Card {
	return append(slices.Clone(r.Current), r.Next...)
}

// Entry is the card cache payload.
type Entry struct {
	Cards          map[string]Card `json:"cards"`
	GuidanceScript string          `json:"guidance_script"`
}

// Composer builds cards. It is safe for concurrent use.
type Composer struct {
	llm   llm.Provider
	cache *cache.CardCache[Entry]
}

// Option configures a Composer.
type Option func(*Composer)

// WithCache enables the card cache.
func WithCache(c *cache.CardCache[Entry]) Option {
	return func(cp *Composer) { cp.cache = c }
}

// New returns a Composer. provider may be nil, in which case every card is
// rule-based.
func New(provider llm.Provider, opts ...Option) *Composer {
	c := &Composer{llm: provider}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TopN is the number of documents summarised by the LLM for route.
func TopN(route router.Route) int {
	if route == router.RouteCardInfo {
		return 2
	}
	return 1
}

// Key returns the card cache key of in.
func (c *Composer) Key(in Input) cache.CardKey {
	ids := make([]string, len(in.Docs))
	for i, d := range in.Docs {
		ids[i] = d.ID
	}
	return cache.CardKey{
		Model:         c.modelID(),
		TopN:          TopN(in.Decision.Route),
		Route:         string(in.Decision.Route),
		PromptVersion: PromptVersion,
		Template:      in.Decision.QueryTemplate,
		Query:         cacheQuery(in),
		DocIDs:        ids,
	}
}

// cacheQuery is the typo-corrected text when the extractor produced one, so
// two mishearings of the same utterance share an entry.
func cacheQuery(in Input) string {
	if t := in.Decision.MatchedSignals.NormalizedText; t != "" {
		return t
	}
	return in.Query
}

func (c *Composer) modelID() string {
	if c.llm == nil {
		return ""
	}
	return c.llm.ModelID()
}

// Lookup returns the cached result for in, if any.
func (c *Composer) Lookup(ctx context.Context, in Input) (Result, bool) {
	if c.cache == nil {
		return Result{}, false
	}
	e, ok := c.cache.Get(ctx, c.Key(in))
	if !ok {
		return Result{}, false
	}
	cards := make([]Card, 0, len(e.Cards))
	for _, d := range order(in) {
		if card, ok := e.Cards[d.ID]; ok {
			card.Keywords = keywords(in)
			cards = append(cards, card)
		}
	}
	cur, next := split(in.Query, cards)
	return Result{Current: cur, Next: next, GuidanceScript: e.GuidanceScript, Cached: true}, true
}

// Remember stores res under the key of in together with the guide script.
func (c *Composer) Remember(ctx context.Context, in Input, res Result, script string) {
	if c.cache == nil {
		return
	}
	e := Entry{Cards: map[string]Card{}, GuidanceScript: script}
	for _, card := range res.Cards() {
		e.Cards[card.ID] = card
	}
	c.cache.Put(ctx, c.Key(in), e)
}

// Compose returns the cards of in, from the cache when possible, and
// remembers freshly built cards without a guide script.
func (c *Composer) Compose(ctx context.Context, in Input) Result {
	if len(in.Docs) == 0 {
		return Result{Current: []Card{}, Next: []Card{}}
	}
	if cached, ok := c.Lookup(ctx, in); ok {
		return cached
	}
	res := c.Build(ctx, in)
	c.Remember(ctx, in, res, "")
	return res
}

// Build composes the cards of in without consulting the cache. It never
// fails; a panic anywhere in composition yields the rule-based cards, and a
// panic there yields no cards.
func (c *Composer) Build(ctx context.Context, in Input) (res Result) {
	if len(in.Docs) == 0 {
		return Result{Current: []Card{}, Next: []Card{}}
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("card composer panicked, using rule-based cards", "panic", p)
			res = ruleOnly(in)
		}
	}()
	return c.compose(ctx, in)
}

func (c *Composer) compose(ctx context.Context, in Input) Result {
	docs := order(in)
	if len(docs) > maxCards {
		docs = docs[:maxCards]
	}
	n := min(TopN(in.Decision.Route), len(docs))
	kw := keywords(in)

	cards := make([]Card, len(docs))
	for i, d := range docs {
		cards[i] = baseCard(d, kw)
	}
	if c.llm != nil && n > 0 {
		if summarised, err := c.summarise(ctx, in.Query, docs[:n], cards[:n]); err != nil {
			slog.Warn("card composer: llm summary failed, using rule-based cards", "err", err)
		} else {
			copy(cards, summarised)
		}
	}

	for i := range cards {
		cards[i] = clean(cards[i])
	}
	if in.Decision.Route == router.RouteCardInfo {
		cards = injectMissingTerms(in.Query, cards, docs)
	}
	cur, next := split(in.Query, cards)
	return Result{Current: cur, Next: next}
}

func (c *Composer) summarise(ctx context.Context, query string, docs []types.Document, base []Card) ([]Card, error) {
	system, user := buildPrompt(query, docs)
	req := llm.UserPrompt(system, user)
	req.Temperature = defaultTemperature
	req.MaxTokens = defaultMaxTokens

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	parsed, err := parseReply(resp.Content)
	if err != nil {
		return nil, err
	}
	if len(parsed) > len(docs) {
		parsed = parsed[:len(docs)]
	}
	return mergeLLM(base, parsed), nil
}

// ruleOnly composes without the LLM. It is the panic fallback, so it guards
// itself too.
func ruleOnly(in Input) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("rule-based card composition panicked", "panic", p)
			res = Result{Current: []Card{}, Next: []Card{}}
		}
	}()
	docs := order(in)
	if len(docs) > maxCards {
		docs = docs[:maxCards]
	}
	cards := make([]Card, len(docs))
	for i, d := range docs {
		cards[i] = clean(baseCard(d, keywords(in)))
	}
	cur, next := split(in.Query, cards)
	return Result{Current: cur, Next: next}
}

// order returns the documents in card order. Card-usage keeps the pinned
// order; card-info ranks by section-term hits when the query names any.
func order(in Input) []types.Document {
	docs := slices.Clone(in.Docs)
	switch in.Decision.Route {
	case router.RouteCardUsage:
		sort.SliceStable(docs, func(i, j int) bool { return types.Less(docs[i], docs[j]) })
	case router.RouteCardInfo:
		q := strings.ToLower(in.Query)
		var terms []string
		for _, t := range sectionTerms {
			if strings.Contains(q, t) {
				terms = append(terms, t)
			}
		}
		if len(terms) == 0 {
			return docs
		}
		hits := make(map[types.DocRef]int, len(docs))
		for _, d := range docs {
			hay := strings.ToLower(d.Title + " " + d.Content + " " + d.Category())
			hits[refKey(d)] = compose.CountAny(hay, terms...)
		}
		sort.SliceStable(docs, func(i, j int) bool {
			return hits[refKey(docs[i])] > hits[refKey(docs[j])]
		})
	}
	return docs
}

func refKey(d types.Document) types.DocRef {
	return types.DocRef{Table: d.Table, ID: d.ID}
}

func keywords(in Input) []string {
	if in.Keywords == nil {
		return []string{}
	}
	return slices.Clone(in.Keywords)
}
