package resilience

import (
	"context"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across chat backends. The
// card composer calls it once per utterance; a backend with an open breaker
// is skipped, so a dead primary costs nothing after the breaker trips.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] preferring primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers provider after the existing backends.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete returns the first backend's successful completion.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// ModelID returns the primary's model. The card cache keys on it, so a
// failover answer is cached under the primary's model tag.
func (f *LLMFallback) ModelID() string { return f.group.Primary().ModelID() }

// Circuits reports each backend's breaker state.
func (f *LLMFallback) Circuits() map[string]State { return f.group.States() }
