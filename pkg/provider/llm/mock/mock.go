// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in composer and pipeline tests to feed canned replies without a
// live backend and to inspect the prompts that were sent.
//
// Example:
//
//	p := &mock.Provider{Reply: `[{"content":"요약"}]`, Model: "test-model"}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. Zero values return an
// empty reply and a nil error.
type Provider struct {
	mu sync.Mutex

	// Reply is the Content of every response.
	Reply string

	// ReplyFunc, if set, computes the reply from the request and takes
	// precedence over Reply.
	ReplyFunc func(req llm.CompletionRequest) string

	// FinishReason is copied to every response.
	FinishReason string

	// Err, if non-nil, is returned from Complete.
	Err error

	// Panic, if non-empty, makes Complete panic with this value.
	Panic string

	// Model is returned by ModelID.
	Model string

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the configured reply or error.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	reply, fn, err, pv, finish := p.Reply, p.ReplyFunc, p.Err, p.Panic, p.FinishReason
	p.mu.Unlock()

	if pv != "" {
		panic(pv)
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		reply = fn(req)
	}
	return &llm.CompletionResponse{Content: reply, FinishReason: finish}, nil
}

// ModelID returns Model.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Model
}

// Calls returns the number of Complete invocations. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
