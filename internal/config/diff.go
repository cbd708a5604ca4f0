package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RAGChanged is true when any live rag knob changed.
	RAGChanged bool

	// RestartRequired lists changed fields that only take effect on restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.RAGChanged = liveRAGChanged(old.RAG, new.RAG)

	restart := func(field string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, field)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("server.allowed_origins", !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	restart("providers", !sameProviders(old.Providers, new.Providers))
	restart("database", old.Database != new.Database)
	restart("cache", old.Cache != new.Cache)
	restart("rag.retrieval_cache_ttl", old.RAG.RetrievalCacheTTL != new.RAG.RetrievalCacheTTL)
	restart("rag.card_cache_ttl", old.RAG.CardCacheTTL != new.RAG.CardCacheTTL)
	restart("rag.embed_cache_ttl", old.RAG.EmbedCacheTTL != new.RAG.EmbedCacheTTL)
	restart("lexicon", old.Lexicon != new.Lexicon)
	restart("session.idle_timeout", old.Session.IdleTimeout != new.Session.IdleTimeout)

	return d
}

func liveRAGChanged(old, new RAGConfig) bool {
	return old.TopK != new.TopK ||
		old.Model != new.Model ||
		old.EnableConsultSearch != new.EnableConsultSearch ||
		old.IncludeDocs != new.IncludeDocs ||
		old.RetrieveBudgetMS != new.RetrieveBudgetMS ||
		old.RetrieveMaxStages != new.RetrieveMaxStages ||
		old.RetrieveMode != new.RetrieveMode ||
		old.VocabMatchRequired() != new.VocabMatchRequired() ||
		old.RequireCardMatch != new.RequireCardMatch ||
		old.ConsultLimit != new.ConsultLimit
}

func sameProviders(a, b ProvidersConfig) bool {
	return sameEntry(a.LLM, b.LLM) && sameEntry(a.LLMFallback, b.LLMFallback) && sameEntry(a.Embeddings, b.Embeddings)
}

// sameEntry ignores Options, which may hold uncomparable values.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

// HasRestartField reports whether field is listed in d.RestartRequired.
func (d ConfigDiff) HasRestartField(field string) bool {
	return slices.Contains(d.RestartRequired, field)
}

// Empty reports whether the configs are equivalent for every tracked field.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.RAGChanged && len(d.RestartRequired) == 0
}
