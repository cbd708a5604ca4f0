// Package pipeline answers one finalized utterance of a call: it extracts
// keywords, routes, retrieves (through the retrieval cache), composes cards
// and the guide script in parallel, and updates the call's session state.
//
// The orchestrator is the only writer of session state. Turns of one call are
// serialised by the session store; distinct calls run independently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/cache"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose/card"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose/guide"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/keyword"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/observe"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/retriever"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/session"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// ErrEmptyQuery is returned for a blank utterance.
var ErrEmptyQuery = errors.New("pipeline: empty query")

// Extractor turns an utterance into keyword signals.
type Extractor interface {
	Extract(text string) keyword.Signals
}

// Router decides how to answer an utterance.
type Router interface {
	Route(text string, sig *keyword.Signals, st *session.State) router.Decision
}

// Retriever finds documents and re-materializes cached references.
type Retriever interface {
	Retrieve(ctx context.Context, req retriever.Request) (retriever.Result, error)
	Materialize(ctx context.Context, refs []types.DocRef) ([]types.Document, error)
	SearchConsult(ctx context.Context, query string, dec router.Decision, limit int) ([]types.Document, error)
}

// Settings are the per-request knobs. They may be replaced at runtime with
// [Pipeline.SetSettings].
type Settings struct {
	TopK                int
	Model               string
	EnableConsultSearch bool
	IncludeDocs         bool
	RetrieveBudget      time.Duration
	RetrieveMaxStages   int
	RetrieveMode        retriever.Mode
	RequireVocabMatch   bool
	RequireCardMatch    bool
	ConsultCooldown     time.Duration
	ConsultLimit        int
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		TopK:              retriever.DefaultTopK,
		RetrieveBudget:    retriever.DefaultBudget,
		RetrieveMaxStages: retriever.DefaultMaxStages,
		RetrieveMode:      retriever.ModeDense,
		RequireVocabMatch: true,
		ConsultCooldown:   session.DefaultConsultCooldown,
		ConsultLimit:      retriever.DefaultConsultLimit,
	}
}

// Request is one utterance.
type Request struct {
	SessionID string
	Query     string

	// IncludeDocs overrides Settings.IncludeDocs when set.
	IncludeDocs *bool
}

// Pipeline is the orchestrator. It is safe for concurrent use.
type Pipeline struct {
	extractor Extractor
	router    Router
	retriever Retriever
	cards     *card.Composer
	guide     *guide.Composer
	sessions  *session.Store

	retrievalCache *cache.RetrievalCache
	metrics        *observe.Metrics
	settings       atomic.Pointer[Settings]
	now            func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetrievalCache enables the retrieval cache.
func WithRetrievalCache(c *cache.RetrievalCache) Option {
	return func(p *Pipeline) { p.retrievalCache = c }
}

// WithMetrics records stage latencies and utterance counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSettings sets the initial settings.
func WithSettings(s Settings) Option {
	return func(p *Pipeline) { p.SetSettings(s) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New assembles a Pipeline.
func New(ex Extractor, rt Router, rv Retriever, cards *card.Composer, gd *guide.Composer, sessions *session.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: ex,
		router:    rt,
		retriever: rv,
		cards:     cards,
		guide:     gd,
		sessions:  sessions,
		now:       time.Now,
	}
	p.SetSettings(DefaultSettings())
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetSettings replaces the settings used by subsequent requests.
func (p *Pipeline) SetSettings(s Settings) {
	p.settings.Store(&s)
}

// Settings returns the current settings.
func (p *Pipeline) Settings() Settings {
	return *p.settings.Load()
}

// EndSession drops the session state of a finished call.
func (p *Pipeline) EndSession(id string) error {
	return p.sessions.Delete(id)
}

// Run answers one utterance. Retrieval outages yield the empty response with
// should_search still set; composer failures never surface. Only a blank
// query and programming errors such as an unknown scope filter are returned.
func (p *Pipeline) Run(ctx context.Context, req Request) (Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Response{}, ErrEmptyQuery
	}
	start := time.Now()
	ctx = observe.WithSession(ctx, req.SessionID)
	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()
	log := observe.Logger(ctx)

	set := p.Settings()
	includeDocs := set.IncludeDocs
	if req.IncludeDocs != nil {
		includeDocs = *req.IncludeDocs
	}

	st, release := p.sessions.Acquire(req.SessionID)
	defer release()
	now := p.now()
	turn := st.Turn + 1
	view := st.Clone()
	view.Turn = turn

	_, end := p.stage(ctx, observe.StageExtract)
	sig := p.extractor.Extract(query)
	end()

	_, end = p.stage(ctx, observe.StageRoute)
	var dec router.Decision
	if set.RequireVocabMatch && !sig.Matched() {
		dec = router.Empty(sig)
	} else {
		dec = p.router.Route(query, &sig, &view)
	}
	end()
	span.SetAttributes(
		attribute.String("route", string(dec.Route)),
		attribute.Bool("should_search", dec.ShouldSearch),
	)
	if p.metrics != nil {
		p.metrics.RecordUtterance(ctx, string(dec.Route))
	}

	if !dec.ShouldSearch {
		st.Turn = turn
		p.record(ctx, observe.StagePipeline, start)
		return emptyResponse(dec, set.Model), nil
	}

	// The consult-case search races the primary retrieval.
	var (
		consult    []types.Document
		consultRan bool
		g          errgroup.Group
	)
	gate := retriever.ConsultGate{Enabled: set.EnableConsultSearch, Cooldown: set.ConsultCooldown}
	if gate.Allow(dec, st, turn, now) {
		consultRan = true
		cdec := dec.Clone()
		g.Go(func() error {
			docs, err := p.retriever.SearchConsult(ctx, query, cdec, set.ConsultLimit)
			if err != nil {
				log.Warn("pipeline: consult-case search failed", "err", err)
				return nil
			}
			consult = docs
			return nil
		})
	}

	rctx, end := p.stage(ctx, observe.StageRetrieve)
	docs, route, rerr := p.retrieve(rctx, query, dec, set)
	end()
	_ = g.Wait()

	if rerr != nil {
		if errors.Is(rerr, retriever.ErrUnavailable) {
			log.Warn("pipeline: retrieval unavailable, returning empty response", "err", rerr)
			p.record(ctx, observe.StagePipeline, start)
			return emptyResponse(dec, set.Model), nil
		}
		span.RecordError(rerr)
		return Response{}, fmt.Errorf("pipeline: retrieve: %w", rerr)
	}
	if route != "" && route != dec.Route {
		// the retriever found documents only under the other route
		log.Debug("pipeline: route flipped by retrieval", "from", dec.Route, "to", route)
		dec = dec.WithRoute(route)
		span.SetAttributes(attribute.String("route", string(dec.Route)))
	}

	cards, script := p.compose(ctx, query, dec, docs, consult)

	resp := Response{
		CurrentSituation: cards.Current,
		NextStep:         cards.Next,
		GuidanceScript:   script,
		GuideScript:      GuideScript{Message: script},
		Routing:          dec,
		Meta: Meta{
			Model:        modelPtr(set.Model),
			DocCount:     len(docs),
			ContextChars: contextChars(docs),
		},
	}
	if includeDocs {
		resp.Docs = docs
		resp.ConsultCases = consult
	}

	p.updateSession(st, turn, dec, now, query, consultRan)
	p.record(ctx, observe.StagePipeline, start)
	log.Debug("pipeline: answered", "route", dec.Route, "docs", len(docs), "turn", turn)
	return resp, nil
}

// retrieve serves from the retrieval cache when possible. Cached entries
// hold references only, so documents are always re-fetched. route is the
// route the documents were found under.
func (p *Pipeline) retrieve(ctx context.Context, query string, dec router.Decision, set Settings) (docs []types.Document, route router.Route, err error) {
	cacheQuery := dec.MatchedSignals.NormalizedText
	if cacheQuery == "" {
		cacheQuery = query
	}
	key := cache.RetrievalKey{
		Query:   cacheQuery,
		Route:   string(dec.Route),
		DBRoute: string(dec.DBRoute),
		Filters: dec.Filters.Entries(),
		Mode:    string(set.RetrieveMode),
		TopK:    set.TopK,
	}
	if p.retrievalCache != nil {
		if e, ok := p.retrievalCache.Get(ctx, key); ok {
			docs, err := p.retriever.Materialize(ctx, e.Refs)
			if err == nil {
				return docs, router.Route(e.Route), nil
			}
			observe.Logger(ctx).Warn("pipeline: cached documents could not be re-fetched", "err", err)
		}
	}

	res, err := p.retriever.Retrieve(ctx, retriever.Request{
		Query:            query,
		Decision:         dec.Clone(),
		TopK:             set.TopK,
		Budget:           set.RetrieveBudget,
		MaxStages:        set.RetrieveMaxStages,
		Mode:             set.RetrieveMode,
		RequireCardMatch: set.RequireCardMatch,
	})
	if err != nil {
		return nil, "", err
	}
	if p.retrievalCache != nil && len(res.Docs) > 0 {
		p.retrievalCache.Put(ctx, key, string(res.Route), res.Docs)
	}
	return res.Docs, res.Route, nil
}

// compose runs the card and guide composers concurrently. A card-cache hit
// that carries the guide script skips both.
func (p *Pipeline) compose(ctx context.Context, query string, dec router.Decision, docs, consult []types.Document) (card.Result, string) {
	cin := card.Input{
		Query:    query,
		Decision: dec.Clone(),
		Docs:     docs,
		Keywords: dec.MatchedSignals.Keywords(),
	}
	gin := guide.Input{
		Query:    query,
		Decision: dec.Clone(),
		Docs:     docs,
		Consult:  consult,
	}

	cached, hit := p.cards.Lookup(ctx, cin)
	if hit && cached.GuidanceScript != "" {
		return cached, cached.GuidanceScript
	}

	var (
		cards  = cached
		script string
		g      errgroup.Group
	)
	if !hit {
		g.Go(func() error {
			cctx, end := p.stage(ctx, observe.StageComposeCards)
			defer end()
			cards = p.cards.Build(cctx, cin)
			return nil
		})
	}
	g.Go(func() error {
		gctx, end := p.stage(ctx, observe.StageComposeGuide)
		defer end()
		script = p.guide.Compose(gctx, gin)
		return nil
	})
	_ = g.Wait()

	if len(docs) > 0 {
		p.cards.Remember(ctx, cin, cards, script)
	}
	return cards, script
}

// updateSession stamps the turn and the sticky slots. It runs only after a
// successful retrieval.
func (p *Pipeline) updateSession(st *session.State, turn int, dec router.Decision, now time.Time, query string, consultRan bool) {
	st.Turn = turn

	switch {
	case dec.Inherited.ClearCardNames:
		st.ClearCardNames()
	case len(dec.Filters.CardNames) > 0 && !dec.Inherited.CardNames:
		st.SetCardNames(dec.Filters.CardNames, now)
	}

	switch {
	case dec.Inherited.ClearIntents:
		st.ClearIntents()
	case dec.Inherited.Intents:
		// inherited slots keep their original stamp
	case len(dec.Filters.Intent) > 0:
		st.SetIntents(dec.Filters.Intent, session.IntentStrong, now)
	case len(dec.Filters.WeakIntents) > 0:
		st.SetIntents(dec.Filters.WeakIntents, session.IntentWeak, now)
	}

	if consultRan {
		st.MarkConsultSearch(now, query)
	}
}

// stage opens the span of one stage. The returned func ends the span and
// records the stage latency.
func (p *Pipeline) stage(ctx context.Context, name string) (context.Context, func()) {
	start := time.Now()
	sctx, span := observe.StartStage(ctx, name)
	return sctx, func() {
		span.End()
		p.record(ctx, name, start)
	}
}

func (p *Pipeline) record(ctx context.Context, name string, since time.Time) {
	if p.metrics != nil {
		p.metrics.RecordStage(ctx, name, time.Since(since))
	}
}
