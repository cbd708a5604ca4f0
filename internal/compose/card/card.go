// Package card turns retrieved documents into the agent-facing cards of one
// response.
//
// The first documents of a route are summarised by the LLM, the rest become
// rule-based cards, and every card passes through the cleaners before it is
// split into the current-situation and next-step slots. The composer never
// fails: any LLM or parse error degrades to the rule-based card of the same
// document.
package card

import (
	"fmt"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// Card is one agent-facing card. Content and FullText are null when empty;
// every other string and array defaults to empty.
type Card struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Keywords       []string `json:"keywords"`
	Content        *string  `json:"content"`
	SystemPath     string   `json:"systemPath"`
	RequiredChecks []string `json:"requiredChecks"`
	Exceptions     []string `json:"exceptions"`
	Regulation     string   `json:"regulation"`
	FullText       *string  `json:"fullText"`
	Time           string   `json:"time"`
	Note           string   `json:"note"`
	DocumentType   string   `json:"documentType"`
}

// ContentText returns the content, or "" when null.
func (c Card) ContentText() string {
	if c.Content == nil {
		return ""
	}
	return *c.Content
}

// text is everything the split and injection rules look at.
func (c Card) text() string {
	return strings.ToLower(c.Title + " " + c.ContentText())
}

func strPtr(s string) *string { return &s }

// summarySentences is the length of a rule-based summary.
const summarySentences = 2

// baseCard builds the rule-based card of d. Structured fields present on the
// document are carried over as-is.
func baseCard(d types.Document, keywords []string) Card {
	c := Card{
		ID:             d.ID,
		Title:          strings.TrimSpace(d.Title),
		Keywords:       keywords,
		Content:        strPtr(compose.FirstSentences(d.Content, summarySentences)),
		FullText:       strPtr(strings.TrimSpace(d.Content)),
		RequiredChecks: []string{},
		Exceptions:     []string{},
		DocumentType:   documentType(d),
	}
	if c.Title == "" {
		c.Title = d.Metadata.String("card_name")
	}

	s := d.Structured
	if s == nil {
		return c
	}
	c.SystemPath = firstString(s, "systemPath", "system_path")
	c.Regulation = firstString(s, "regulation")
	c.Time = firstString(s, "time", "processing_time")
	c.Note = firstString(s, "note")
	if v := stringList(s, "requiredChecks", "required_checks"); len(v) > 0 {
		c.RequiredChecks = v
	}
	if v := stringList(s, "exceptions"); len(v) > 0 {
		c.Exceptions = v
	}
	if dt := firstString(s, "documentType", "document_type"); dt != "" {
		c.DocumentType = dt
	}
	return c
}

func documentType(d types.Document) string {
	if dt := d.Metadata.String("document_type"); dt != "" {
		return dt
	}
	switch d.Table {
	case types.TableProducts:
		return "card_product"
	case types.TableConsult:
		return "consult_case"
	}
	return "service_guide"
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func stringList(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, x := range v {
				if s := strings.TrimSpace(fmt.Sprint(x)); s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		case []string:
			if len(v) > 0 {
				return v
			}
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return []string{s}
			}
		}
	}
	return nil
}
