package pipeline

import (
	"unicode/utf8"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose/card"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// Response is the per-utterance payload sent to the agent UI.
type Response struct {
	CurrentSituation []card.Card     `json:"currentSituation"`
	NextStep         []card.Card     `json:"nextStep"`
	GuidanceScript   string          `json:"guidanceScript"`
	GuideScript      GuideScript     `json:"guide_script"`
	Routing          router.Decision `json:"routing"`
	Meta             Meta            `json:"meta"`

	// Docs and ConsultCases are only set when documents were requested.
	Docs         []types.Document `json:"docs,omitempty"`
	ConsultCases []types.Document `json:"consultCases,omitempty"`
}

// GuideScript mirrors GuidanceScript for older UI clients.
type GuideScript struct {
	Message string `json:"message"`
}

// Meta describes how the response was produced.
type Meta struct {
	Model        *string `json:"model"`
	DocCount     int     `json:"doc_count"`
	ContextChars int     `json:"context_chars"`
}

// Cards returns the current and next cards in response order.
func (r Response) Cards() []card.Card {
	out := make([]card.Card, 0, len(r.CurrentSituation)+len(r.NextStep))
	out = append(out, r.CurrentSituation...)
	return append(out, r.NextStep...)
}

func emptyResponse(dec router.Decision, model string) Response {
	return Response{
		CurrentSituation: []card.Card{},
		NextStep:         []card.Card{},
		Routing:          dec,
		Meta:             Meta{Model: modelPtr(model)},
	}
}

func modelPtr(m string) *string {
	if m == "" {
		return nil
	}
	return &m
}

// contextChars counts the document text handed to the composers.
func contextChars(docs []types.Document) int {
	n := 0
	for _, d := range docs {
		n += utf8.RuneCountInString(d.Title) + utf8.RuneCountInString(d.Content)
	}
	return n
}
