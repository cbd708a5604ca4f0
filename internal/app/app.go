// Package app wires all copilot subsystems into a running application.
//
// The App struct owns the full lifecycle: New connects the corpus, builds
// the caches and providers and assembles the pipeline, Run serves HTTP until
// the context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithCorpus,
// WithMetrics). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/cache"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose/card"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose/guide"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/config"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/corpus"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/health"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/keyword"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/lexicon"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/observe"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/pipeline"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/resilience"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/retriever"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/server"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/session"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/embeddings"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/embeddings/cached"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/llm"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM         llm.Provider
	LLMFallback llm.Provider
	Embeddings  embeddings.Provider
}

// Corpus is the document store the app searches and reads card names from.
// [*corpus.Store] satisfies it.
type Corpus interface {
	retriever.Corpus
	lexicon.CardNameSource
	health.Pinger
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler

	// Subsystems. Initialised in New, torn down in Shutdown.
	corpus    Corpus
	redis     *cache.Redis
	retrieval *cache.Layered
	cards     *cache.Layered
	lexicon   *lexicon.Loader
	extractor *keyword.Extractor
	llm       llm.Provider
	circuits  []health.Checker
	embedder  *cached.Provider
	sessions  *session.Store
	pipeline  *pipeline.Pipeline
	health    *health.Handler
	handler   http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCorpus injects a corpus instead of connecting to PostgreSQL.
func WithCorpus(c Corpus) Option {
	return func(a *App) { a.corpus = c }
}

// WithMetrics records into m instead of [observe.DefaultMetrics] and serves
// h on /metrics when h is non-nil.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = h
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: corpus connection, cache
// tiers, lexicon load, provider wrapping and warmup, and pipeline assembly.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers == nil || providers.LLM == nil || providers.Embeddings == nil {
		return nil, fmt.Errorf("app: llm and embeddings providers are required")
	}

	// ── 1. Corpus ────────────────────────────────────────────────────────
	if err := a.initCorpus(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init corpus: %w", err)
	}

	// ── 2. Caches ────────────────────────────────────────────────────────
	if err := a.initCaches(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init caches: %w", err)
	}

	// ── 3. Lexicon + keyword extractor ───────────────────────────────────
	if err := a.initLexicon(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init lexicon: %w", err)
	}

	// ── 4. Providers ─────────────────────────────────────────────────────
	a.initProviders(ctx)

	// ── 5. Pipeline ──────────────────────────────────────────────────────
	a.initPipeline()

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCorpus connects to PostgreSQL or uses the injected corpus.
func (a *App) initCorpus(ctx context.Context) error {
	if a.corpus != nil {
		return nil
	}

	db := a.cfg.Database
	if db.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when no corpus is injected")
	}

	store, err := corpus.Open(ctx, db.PostgresDSN,
		corpus.WithMaxConns(db.MaxConns),
		corpus.WithTrigram(!db.DisableTrigram),
	)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})

	if db.EnsureSchema {
		dims := db.EmbeddingDimensions
		if dims == 0 {
			dims = config.DefaultEmbeddingDimensions
		}
		if err := corpus.EnsureSchema(ctx, store.Pool(), dims); err != nil {
			return err
		}
	}

	a.corpus = store
	return nil
}

// initCaches builds the retrieval and card caches. Without a Redis URL they
// are memory-only.
func (a *App) initCaches(ctx context.Context) error {
	rag := a.cfg.RAG
	observer := func(name string, hit bool) {
		a.metrics.RecordCacheLookup(context.Background(), name, hit)
	}

	retrievalOpts := []cache.LayeredOption{cache.WithObserver(observer)}
	cardOpts := []cache.LayeredOption{cache.WithObserver(observer)}

	if url := a.cfg.Cache.RedisURL; url != "" {
		client, err := cache.Dial(ctx, url)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.redis = cache.NewRedis(client, "copilot:retrieval:")
		retrievalOpts = append(retrievalOpts, cache.WithRemote(a.redis))
		cardOpts = append(cardOpts, cache.WithRemote(cache.NewRedis(client, "copilot:card:")))
	}

	a.retrieval = cache.NewLayered("retrieval", seconds(rag.RetrievalCacheTTL), a.cfg.Cache.MaxEntries, retrievalOpts...)
	a.cards = cache.NewLayered("card", seconds(rag.CardCacheTTL), a.cfg.Cache.MaxEntries, cardOpts...)
	return nil
}

// initLexicon loads the keyword file and card names and warms the extractor.
func (a *App) initLexicon(ctx context.Context) error {
	loader, err := lexicon.NewLoader(ctx, a.cfg.Lexicon.Path, a.corpus)
	if err != nil {
		return err
	}
	a.lexicon = loader
	a.extractor = keyword.New(loader)
	a.extractor.Warmup()
	return nil
}

// initProviders wraps the configured providers in failover groups and the
// embedding cache, then warms the cache.
func (a *App) initProviders(ctx context.Context) {
	pc := a.cfg.Providers

	// fallbackConfig reports provider attempts and breaker transitions for
	// one provider kind.
	fallbackConfig := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, _, to resilience.State) {
					a.metrics.RecordCircuitTransition(context.Background(), name, kind, to.String())
				},
			},
			OnAttempt: func(name string, err error) {
				status := "ok"
				if err != nil {
					status = "error"
					a.metrics.RecordProviderError(context.Background(), name, kind)
				}
				a.metrics.RecordProviderRequest(context.Background(), name, kind, status)
			},
		}
	}

	llmGroup := resilience.NewLLMFallback(a.providers.LLM, pc.LLM.Name, fallbackConfig("llm"))
	if a.providers.LLMFallback != nil {
		llmGroup.AddFallback(pc.LLMFallback.Name, a.providers.LLMFallback)
	}
	a.llm = llmGroup
	a.circuits = append(a.circuits, circuitCheck("llm", llmGroup))

	embGroup := resilience.NewEmbeddingsFallback(a.providers.Embeddings, pc.Embeddings.Name, fallbackConfig("embeddings"))
	a.circuits = append(a.circuits, circuitCheck("embeddings", embGroup))
	a.embedder = cached.New(embGroup, seconds(a.cfg.RAG.EmbedCacheTTL), cached.WithObserver(func(hit bool) {
		a.metrics.RecordCacheLookup(context.Background(), "embedding", hit)
	}))

	warm := warmupTexts(a.cfg.RAG.EmbedWarmup, a.lexicon.Current())
	if len(warm) > 0 {
		if err := a.embedder.Warmup(ctx, warm); err != nil {
			slog.Warn("embedding warmup failed", "texts", len(warm), "err", err)
		} else {
			slog.Info("embedding cache warmed", "texts", len(warm))
		}
	}
}

// circuitCheck degrades readiness while every backend of one provider kind
// has an open breaker.
func circuitCheck(kind string, g interface{ Circuits() map[string]resilience.State }) health.Checker {
	return health.Soft(health.Checker{
		Name: kind,
		Check: func(context.Context) error {
			states := g.Circuits()
			for _, st := range states {
				if st != resilience.StateOpen {
					return nil
				}
			}
			return fmt.Errorf("all %d circuits open", len(states))
		},
	})
}

// initPipeline assembles router, retriever, composers and session store.
func (a *App) initPipeline() {
	// The pipeline enforces the vocabulary gate itself so that inherited
	// slots still reach the response.
	rt := router.New(a.extractor, router.WithRequireVocabMatch(false))

	rv := retriever.New(a.corpus, a.embedder, retriever.WithFallbackObserver(func(kind string) {
		a.metrics.RecordFallback(context.Background(), kind)
	}))

	cards := card.New(a.llm, card.WithCache(cache.NewCardCache[card.Entry](a.cards)))
	gd := guide.New(a.llm)

	a.sessions = session.NewStore(a.cfg.Session.IdleTimeout, session.WithLifecycle(func(delta int64) {
		a.metrics.ActiveSessions.Add(context.Background(), delta)
	}))

	a.pipeline = pipeline.New(a.extractor, rt, rv, cards, gd, a.sessions,
		pipeline.WithRetrievalCache(cache.NewRetrievalCache(a.retrieval)),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithSettings(SettingsFrom(a.cfg)),
	)
}

// initServer builds the health checks and the HTTP handler.
func (a *App) initServer() {
	checkers := []health.Checker{health.Ping("database", a.corpus)}
	if a.redis != nil {
		checkers = append(checkers, health.Soft(health.Ping("redis", a.redis)))
	}
	checkers = append(checkers, a.circuits...)
	a.health = health.New(checkers...)

	a.handler = server.New(a.pipeline,
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics, a.metricsHandler),
		server.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
	).Handler()
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Pipeline returns the assembled pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// ─── Live reload ─────────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable parts of next and returns the diff
// against the previous config. Fields that need a restart are logged and
// otherwise ignored.
func (a *App) ApplyConfig(prev, next *config.Config) config.ConfigDiff {
	d := config.Diff(prev, next)
	if d.RAGChanged {
		a.pipeline.SetSettings(SettingsFrom(next))
		slog.Info("rag settings reloaded", "top_k", next.RAG.TopK, "retrieve_mode", next.RAG.RetrieveMode)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config change needs a restart to take effect", "fields", d.RestartRequired)
	}
	return d
}

// ReloadLexicon rebuilds the lexicon from the keyword file and the corpus
// card names. On error the previous lexicon stays active.
func (a *App) ReloadLexicon(ctx context.Context) error {
	if err := a.lexicon.Reload(ctx); err != nil {
		return fmt.Errorf("app: reload lexicon: %w", err)
	}
	a.extractor.Warmup()
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and, when configured, reloads the
// lexicon periodically. When ctx is done, Run stops the listener and returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	var wg sync.WaitGroup
	if interval := a.cfg.Lexicon.ReloadInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.reloadLoop(ctx, interval)
		}()
	}

	slog.Info("app running", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	wg.Wait()

	if serveErr != nil {
		return fmt.Errorf("app: serve: %w", serveErr)
	}
	return ctx.Err()
}

func (a *App) reloadLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.ReloadLexicon(ctx); err != nil {
				slog.Warn("lexicon reload failed, keeping previous", "err", err)
			}
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "sessions", a.sessions.Len())

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what a failed New already opened.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		_ = closer()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SettingsFrom converts the rag and session blocks of cfg into pipeline
// settings.
func SettingsFrom(cfg *config.Config) pipeline.Settings {
	r := cfg.RAG
	s := pipeline.Settings{
		TopK:                r.TopK,
		Model:               r.Model,
		EnableConsultSearch: r.EnableConsultSearch,
		IncludeDocs:         r.IncludeDocs,
		RetrieveBudget:      r.RetrieveBudget(),
		RetrieveMaxStages:   r.RetrieveMaxStages,
		RetrieveMode:        retriever.Mode(r.RetrieveMode),
		RequireVocabMatch:   r.VocabMatchRequired(),
		RequireCardMatch:    r.RequireCardMatch,
		ConsultCooldown:     cfg.Session.ConsultCooldown,
		ConsultLimit:        r.ConsultLimit,
	}
	if s.ConsultCooldown <= 0 {
		s.ConsultCooldown = session.DefaultConsultCooldown
	}
	return s
}

// warmupTexts returns the configured warmup queries followed by the
// canonical action terms of snap, deduplicated.
func warmupTexts(configured []string, snap *lexicon.Snapshot) []string {
	seen := make(map[string]struct{}, len(configured)+len(snap.ActionSynonyms))
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range configured {
		add(s)
	}
	actions := make([]string, 0, len(snap.ActionSynonyms))
	for a := range snap.ActionSynonyms {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		add(a)
	}
	return out
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
