// Package types defines the corpus types shared across the copilot packages.
//
// These types form the lingua franca between the corpus store, the retriever,
// the caches, and the composers. Each package defines its own domain types;
// only cross-cutting data structures live here to avoid circular imports.
package types

import "strings"

// Table names one of the three read-only corpus tables.
type Table string

const (
	// TableProducts holds card-product rows (no embedding column).
	TableProducts Table = "products"

	// TableGuide holds service-guide documents.
	TableGuide Table = "service_guide"

	// TableConsult holds past-consultation transcripts.
	TableConsult Table = "consultation_cases"
)

// IsValid reports whether t is one of the known corpus tables.
func (t Table) IsValid() bool {
	switch t {
	case TableProducts, TableGuide, TableConsult:
		return true
	}
	return false
}

// HasEmbedding reports whether rows of t carry an embedding column.
func (t Table) HasEmbedding() bool {
	return t == TableGuide || t == TableConsult
}

// Document source tags. A scope filter restricts a guide search to the rows
// carrying one of these tags.
const (
	SourceGuideMerged    = "guide_merged"
	SourceGuideGeneral   = "guide_general"
	SourceGuideWithTerms = "guide_with_terms"
	SourceApplePay       = "hyundai_applepay"
)

// Metadata is the free-form jsonb metadata column of a corpus row.
// Known keys: category, card_name, document_number, source_table.
type Metadata map[string]any

// String returns the string value stored under key, or "".
func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Document is one retrieved corpus row. Table and ID together address it.
type Document struct {
	ID         string         `json:"id"`
	Table      Table          `json:"table"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Metadata   Metadata       `json:"metadata"`
	Structured map[string]any `json:"structured,omitempty"`
	Score      float64        `json:"score"`

	VectorScore *float64 `json:"vector_score,omitempty"`
	TextScore   *float64 `json:"text_score,omitempty"`

	Pinned  bool `json:"pinned,omitempty"`
	PinRank int  `json:"pin_rank,omitempty"`
}

// Ref returns the cacheable reference for d. Content is never part of it.
func (d Document) Ref() DocRef {
	return DocRef{Table: d.Table, ID: d.ID, Score: d.Score, Pinned: d.Pinned, PinRank: d.PinRank}
}

// Category returns the document category from metadata.
func (d Document) Category() string {
	return d.Metadata.String("category")
}

// Mentions reports whether the title or content contains any of terms,
// compared case-insensitively.
func (d Document) Mentions(terms ...string) bool {
	hay := strings.ToLower(d.Title + " " + d.Content)
	for _, t := range terms {
		if t != "" && strings.Contains(hay, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// DocRef is the ids-only form of a [Document] stored by the retrieval cache.
// Documents are re-fetched by (Table, ID) on every cache hit.
type DocRef struct {
	Table   Table   `json:"table"`
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Pinned  bool    `json:"pinned,omitempty"`
	PinRank int     `json:"pin_rank,omitempty"`
}

// Less reports whether a sorts before b in the final document order:
// pinned first, then pin rank ascending, then score descending, then
// (table, id) ascending as a total tie-breaker.
func Less(a, b Document) bool {
	if a.Pinned != b.Pinned {
		return a.Pinned
	}
	if a.Pinned && a.PinRank != b.PinRank {
		return a.PinRank < b.PinRank
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Table != b.Table {
		return a.Table < b.Table
	}
	return a.ID < b.ID
}
