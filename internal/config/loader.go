package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai"},
}

// Environment variables that override file values in [Load].
const (
	EnvPostgresDSN = "COPILOT_POSTGRES_DSN"
	EnvRedisURL    = "COPILOT_REDIS_URL"
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvLLMModel    = "COPILOT_LLM_MODEL"
	EnvListenAddr  = "COPILOT_LISTEN_ADDR"
)

// LoadEnv loads KEY=VALUE pairs from the given .env files (".env" when none
// are given) into the process environment. Variables already set win. Missing
// files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path, overlays the environment,
// and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result. The
// environment is not consulted, which keeps tests hermetic.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, func(string) string { return "" })
}

func parse(r io.Reader, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, getenv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints with the non-empty environment
// values returned by getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Database.PostgresDSN, EnvPostgresDSN)
	set(&cfg.Cache.RedisURL, EnvRedisURL)
	set(&cfg.Server.ListenAddr, EnvListenAddr)
	set(&cfg.Providers.LLM.Model, EnvLLMModel)

	// The OpenAI key only fills entries that target OpenAI and carry none.
	if key := getenv(EnvOpenAIKey); key != "" {
		for _, e := range []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.LLMFallback, &cfg.Providers.Embeddings} {
			if e.Name == "openai" && e.APIKey == "" {
				e.APIKey = key
			}
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers. A copilot without a model or a corpus cannot start.
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	if fb := cfg.Providers.LLMFallback; fb.Name != "" && fb.Name == cfg.Providers.LLM.Name && fb.Model == cfg.Providers.LLM.Model {
		slog.Warn("providers.llm_fallback is identical to providers.llm; failover will not help")
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("database.postgres_dsn is required (or set %s)", EnvPostgresDSN))
	}
	if cfg.Database.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("database.max_conns %d must not be negative", cfg.Database.MaxConns))
	}
	if d := cfg.Database.EmbeddingDimensions; d < 0 {
		errs = append(errs, fmt.Errorf("database.embedding_dimensions %d must not be negative", d))
	} else if d != 0 && d != DefaultEmbeddingDimensions {
		slog.Warn("database.embedding_dimensions differs from the corpus default", "dimensions", d, "default", DefaultEmbeddingDimensions)
	}

	// Cache
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must not be negative", cfg.Cache.MaxEntries))
	}

	// RAG
	errs = append(errs, validateRAG(cfg.RAG)...)

	// Lexicon and session
	if cfg.Lexicon.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("lexicon.reload_interval %s must not be negative", cfg.Lexicon.ReloadInterval))
	}
	if cfg.Session.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout %s must not be negative", cfg.Session.IdleTimeout))
	}
	if cfg.Session.ConsultCooldown < 0 {
		errs = append(errs, fmt.Errorf("session.consult_cooldown %s must not be negative", cfg.Session.ConsultCooldown))
	}

	return errors.Join(errs...)
}

func validateRAG(r RAGConfig) []error {
	var errs []error
	if r.TopK < 0 || r.TopK > 50 {
		errs = append(errs, fmt.Errorf("rag.top_k %d is out of range [1, 50]", r.TopK))
	}
	if r.RetrieveMode != "" && !r.RetrieveMode.IsValid() {
		errs = append(errs, fmt.Errorf("rag.retrieve_mode %q is invalid; valid values: dense, hybrid", r.RetrieveMode))
	}
	if r.RetrieveBudgetMS < 0 {
		errs = append(errs, fmt.Errorf("rag.retrieve_budget_ms %d must not be negative", r.RetrieveBudgetMS))
	}
	if r.RetrieveMaxStages < 0 {
		errs = append(errs, fmt.Errorf("rag.retrieve_max_stages %d must not be negative", r.RetrieveMaxStages))
	}
	for name, ttl := range map[string]int{
		"retrieval_cache_ttl": r.RetrievalCacheTTL,
		"card_cache_ttl":      r.CardCacheTTL,
		"embed_cache_ttl":     r.EmbedCacheTTL,
	} {
		if ttl < 0 {
			errs = append(errs, fmt.Errorf("rag.%s %d must not be negative", name, ttl))
		}
	}
	if r.ConsultLimit < 0 {
		errs = append(errs, fmt.Errorf("rag.consult_limit %d must not be negative", r.ConsultLimit))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
