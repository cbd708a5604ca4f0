package resilience

import (
	"context"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] behind a circuit
// breaker. Fallback backends must embed into the same vector space as the
// primary; a model mismatch is rejected by [EmbeddingsFallback.AddFallback].
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers provider as a fallback. It reports false and ignores
// provider when its model or dimensions differ from the primary's.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) bool {
	primary := f.group.Primary()
	if provider.ModelID() != primary.ModelID() || provider.Dimensions() != primary.Dimensions() {
		return false
	}
	f.group.AddFallback(name, provider)
	return true
}

// Embed embeds text with the first healthy provider.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch embeds texts with the first healthy provider.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's vector length.
func (f *EmbeddingsFallback) Dimensions() int { return f.group.Primary().Dimensions() }

// ModelID returns the primary's model.
func (f *EmbeddingsFallback) ModelID() string { return f.group.Primary().ModelID() }

// Circuits reports each backend's breaker state.
func (f *EmbeddingsFallback) Circuits() map[string]State { return f.group.States() }
