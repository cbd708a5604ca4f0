// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// The retriever embeds every utterance it searches for and compares the
// vector against the corpus embedding column, so every provider used with a
// given corpus must produce vectors in the same space and of the same
// dimensionality as the indexed rows (1536 for the default model).
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for a single text string. The
	// returned slice has length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for texts in one call. The i-th
	// result corresponds to texts[i]. On error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced.
	Dimensions() int

	// ModelID returns the provider-specific model identifier.
	ModelID() string
}
