// Package retriever turns a routing decision into a ranked list of corpus
// documents.
//
// A retrieval selects the tables allowed by the decision, runs the vector and
// lexical branches per table concurrently, merges them into one score,
// removes cross-topic contamination, applies the pin policy, and sorts the
// result with a total tie-breaker so identical inputs always yield identical
// output. Within the request budget it may run up to two fallback stages: a
// hybrid pass when the dense pass is empty or weak, and a flipped-route pass
// when nothing was found for a strongly domain-specific utterance.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/corpus"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/embeddings"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// ErrUnavailable is returned when no corpus table could be searched.
var ErrUnavailable = errors.New("retriever: retrieval unavailable")

// Defaults.
const (
	DefaultTopK       = 5
	DefaultBudget     = 950 * time.Millisecond
	DefaultMaxStages  = 2
	DefaultTextWeight = 0.2

	// weakTopScore triggers the hybrid fallback.
	weakTopScore = 0.05
	// pinMinTopScore is the top score an unforced pin needs.
	pinMinTopScore = 0.3
	// flipMinDomainScore is the domain score the route-flip fallback needs.
	flipMinDomainScore = 3
)

// Mode is the retrieval mode of a pass.
type Mode string

const (
	// ModeDense ranks by vector similarity; the lexical branch only stands in
	// when the vector branch is unavailable.
	ModeDense Mode = "dense"
	// ModeHybrid merges the vector and lexical branches.
	ModeHybrid Mode = "hybrid"
)

// Fallback kinds reported to the observer.
const (
	FallbackHybrid    = "hybrid"
	FallbackRouteFlip = "route_flip"
)

// Corpus is the read-only document store.
type Corpus interface {
	VectorSearch(ctx context.Context, q corpus.Query) ([]types.Document, error)
	TextSearch(ctx context.Context, q corpus.Query) ([]types.Document, error)
	CardCandidateIDs(ctx context.Context, names []string) ([]string, error)
	FetchDocuments(ctx context.Context, refs []types.DocRef) ([]types.Document, error)
}

// Request is one retrieval.
type Request struct {
	Query    string
	Decision router.Decision
	TopK     int

	// Budget bounds the time after which no further fallback stage starts.
	Budget time.Duration

	// MaxStages caps the number of fallback stages.
	MaxStages int

	// Mode of the first pass. Empty means ModeDense.
	Mode Mode

	// RequireCardMatch disables the terms-only product scan when a named
	// card has no product candidates.
	RequireCardMatch bool
}

// Result is the outcome of a retrieval.
type Result struct {
	Docs      []types.Document
	Mode      Mode
	Route     router.Route
	Fallbacks []string
	Elapsed   time.Duration
}

// Retriever runs retrievals against a Corpus.
type Retriever struct {
	corpus     Corpus
	embedder   embeddings.Provider
	textWeight float64
	now        func() time.Time
	onFallback func(kind string)
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTextWeight sets the lexical weight of the merged score.
func WithTextWeight(w float64) Option {
	return func(r *Retriever) { r.textWeight = w }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Retriever) { r.now = now }
}

// WithFallbackObserver registers a callback invoked for every fallback stage
// that runs.
func WithFallbackObserver(fn func(kind string)) Option {
	return func(r *Retriever) { r.onFallback = fn }
}

// New returns a Retriever. embedder may be nil, which disables the vector
// branch.
func New(c Corpus, embedder embeddings.Provider, opts ...Option) *Retriever {
	r := &Retriever{
		corpus:     c,
		embedder:   embedder,
		textWeight: DefaultTextWeight,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve runs the initial pass and any fallback stages the budget allows.
// Unknown scope filters are returned as errors; a database failure on every
// searched table yields ErrUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (Result, error) {
	req = withDefaults(req)
	start := r.now()
	withinBudget := func() bool { return r.now().Sub(start) < req.Budget }

	dec := req.Decision
	res := Result{Mode: req.Mode, Route: dec.Route}

	vec := r.embed(ctx, req.Query)

	docs, err := r.pass(ctx, req, dec, req.Mode, vec)
	if err != nil {
		return Result{}, err
	}

	stages := 0
	if (len(docs) == 0 || topScore(docs) < weakTopScore) && req.Mode == ModeDense &&
		stages < req.MaxStages && withinBudget() {
		stages++
		r.fallback(FallbackHybrid)
		hybrid, err := r.pass(ctx, req, dec, ModeHybrid, vec)
		if err == nil && (len(hybrid) > 0 && (len(docs) == 0 || topScore(hybrid) >= topScore(docs))) {
			docs = hybrid
			res.Mode = ModeHybrid
		}
		res.Fallbacks = append(res.Fallbacks, FallbackHybrid)
	}

	if len(docs) == 0 && dec.DomainScore >= flipMinDomainScore && dec.Route.Flip() != dec.Route &&
		stages < req.MaxStages && withinBudget() {
		stages++
		r.fallback(FallbackRouteFlip)
		flipped := dec.WithRoute(dec.Route.Flip())
		alt, err := r.pass(ctx, req, flipped, res.Mode, vec)
		if err == nil && len(alt) > 0 {
			docs = alt
			dec = flipped
			res.Route = flipped.Route
		}
		res.Fallbacks = append(res.Fallbacks, FallbackRouteFlip)
	}

	docs = dedupe(postFilter(req.Query, dec, docs))
	if len(docs) > req.TopK {
		docs = docs[:req.TopK]
	}
	docs = r.applyPins(ctx, req.Query, dec, docs, withinBudget())
	sortDocs(docs)
	if len(docs) > req.TopK {
		docs = docs[:req.TopK]
	}

	res.Docs = docs
	res.Elapsed = r.now().Sub(start)
	return res, nil
}

func withDefaults(req Request) Request {
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.Budget <= 0 {
		req.Budget = DefaultBudget
	}
	if req.MaxStages < 0 {
		req.MaxStages = 0
	} else if req.MaxStages == 0 {
		req.MaxStages = DefaultMaxStages
	}
	if req.Mode == "" {
		req.Mode = ModeDense
	}
	return req
}

// embed returns the query vector, or nil when the embedder is missing or
// failed. The lexical branch then carries the search alone.
func (r *Retriever) embed(ctx context.Context, q string) []float32 {
	if r.embedder == nil || q == "" {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, q)
	if err != nil {
		slog.Warn("retriever: embedding unavailable, lexical branch only", "err", err)
		return nil
	}
	return vec
}

func (r *Retriever) fallback(kind string) {
	if r.onFallback != nil {
		r.onFallback(kind)
	}
}

// Materialize re-fetches cached references, keeping their order, scores and
// pin marks. A failure yields ErrUnavailable.
func (r *Retriever) Materialize(ctx context.Context, refs []types.DocRef) ([]types.Document, error) {
	if len(refs) == 0 {
		return []types.Document{}, nil
	}
	docs, err := r.corpus.FetchDocuments(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return docs, nil
}

func topScore(docs []types.Document) float64 {
	best := 0.0
	for _, d := range docs {
		if !d.Pinned && d.Score > best {
			best = d.Score
		}
	}
	return best
}
