// Package llm defines the Provider interface for the chat-completion backends
// used by the card and guide composers.
//
// The composers issue exactly one non-streaming completion per utterance and
// parse the reply themselves, so the interface is deliberately narrow: a
// single Complete call plus the model tag that feeds cache keys and the
// response meta block.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message roles accepted by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of the prompt.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected before Messages as a system-role message.
	SystemPrompt string

	// Messages is the ordered prompt. The last message is the user turn.
	Messages []Message

	// Temperature controls randomness. Zero requests the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// FinishLength is the finish reason of a reply cut off by MaxTokens.
const FinishLength = "length"

// CompletionResponse is the full reply of a completion.
type CompletionResponse struct {
	// Content is the text of the assistant reply.
	Content string

	// FinishReason is the backend's stop reason ("stop", "length", ...), or
	// empty when the backend does not report one.
	FinishReason string

	// Usage is the token accounting for the request.
	Usage Usage
}

// Truncated reports whether the reply hit the token cap.
func (r *CompletionResponse) Truncated() bool { return r.FinishReason == FinishLength }

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the configured model tag (e.g. "gpt-4o-mini").
	ModelID() string
}

// UserPrompt is shorthand for a request consisting of a system prompt and a
// single user message.
func UserPrompt(system, user string) CompletionRequest {
	return CompletionRequest{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: user}},
	}
}

// Transcript flattens req into the message list sent to a backend, with the
// system prompt first. It rejects unknown roles and empty prompts.
func Transcript(req CompletionRequest) ([]Message, error) {
	out := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
			out = append(out, m)
		default:
			return nil, fmt.Errorf("llm: unknown message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("llm: empty prompt")
	}
	return out, nil
}
