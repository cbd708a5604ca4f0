package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/embeddings"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned when no factory exists for a
// provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ErrDimensionMismatch is returned when an embeddings model does not produce
// vectors of the corpus column's length.
var ErrDimensionMismatch = errors.New("config: embedding dimensions do not match the corpus")

// Registry maps the provider names used in the providers block to
// constructors. It is safe for concurrent use.
type Registry struct {
	llm        factorySet[llm.Provider]
	embeddings factorySet[embeddings.Provider]
}

// factorySet holds the constructors of one provider kind.
type factorySet[T any] struct {
	kind string
	mu   sync.RWMutex
	fns  map[string]func(ProviderEntry) (T, error)
}

func (s *factorySet[T]) register(name string, fn func(ProviderEntry) (T, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[string]func(ProviderEntry) (T, error))
	}
	s.fns[name] = fn
}

func (s *factorySet[T]) create(entry ProviderEntry) (T, error) {
	s.mu.RLock()
	fn, ok := s.fns[entry.Name]
	s.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, s.kind, entry.Name)
	}
	p, err := fn(entry)
	if err != nil {
		return p, fmt.Errorf("config: %s provider %q: %w", s.kind, entry.Name, err)
	}
	return p, nil
}

func (s *factorySet[T]) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.fns))
	for n := range s.fns {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        factorySet[llm.Provider]{kind: "llm"},
		embeddings: factorySet[embeddings.Provider]{kind: "embeddings"},
	}
}

// RegisterLLM registers a chat-model constructor under name, replacing any
// earlier one.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterEmbeddings registers an embeddings constructor under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// CreateLLM builds the chat model named by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateEmbeddings builds the embeddings model named by entry. When dims is
// positive and the model reports its own length, the two must agree, since
// the corpus vector column has a fixed length.
func (r *Registry) CreateEmbeddings(entry ProviderEntry, dims int) (embeddings.Provider, error) {
	p, err := r.embeddings.create(entry)
	if err != nil {
		return nil, err
	}
	if got := p.Dimensions(); dims > 0 && got > 0 && got != dims {
		return nil, fmt.Errorf("%w: model %q has %d, database.embedding_dimensions is %d", ErrDimensionMismatch, p.ModelID(), got, dims)
	}
	return p, nil
}

// LLMNames returns the registered chat-model names, sorted.
func (r *Registry) LLMNames() []string { return r.llm.names() }

// EmbeddingsNames returns the registered embeddings names, sorted.
func (r *Registry) EmbeddingsNames() []string { return r.embeddings.names() }
