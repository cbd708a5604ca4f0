// Package keyword turns a short, noisy Korean utterance into structured
// retrieval [Signals].
//
// Extraction runs in order: typo correction with card-name protection,
// morphological analysis (degrading to whitespace tokens), per-class candidate
// generation from the lexicon, compound-pattern matching, payment context
// expansion, and filler stripping. Each step recovers from its own failures so
// that [Extractor.Extract] always returns a usable result.
package keyword

import "slices"

// Apple Pay sub-intents.
const (
	ApplePayAddCard = "applepay_add_card"
	ApplePayTransit = "applepay_transit"
	ApplePayPayment = "applepay_payment"
	ApplePayLoss    = "applepay_loss"
	ApplePayGeneral = "applepay_general"
)

// Signals is the immutable extraction result for one utterance.
type Signals struct {
	// NormalizedText is the corrected, lowercased, whitespace-collapsed text.
	NormalizedText string `json:"normalized_text"`

	CardNames   []string `json:"card_names"`
	Actions     []string `json:"actions"`
	Payments    []string `json:"payments"`
	WeakIntents []string `json:"weak_intents"`
	PatternHits []string `json:"pattern_hits"`

	// Terms is the noun bag left after stopword stripping.
	Terms []string `json:"terms"`

	ApplePayIntent string `json:"applepay_intent,omitempty"`
	InfoHint       bool   `json:"info_hint"`
	UsageStrong    bool   `json:"usage_strong"`
	IssuanceHint   bool   `json:"issuance_hint"`
}

// Matched reports whether any lexicon class produced a hit.
func (s Signals) Matched() bool {
	return len(s.CardNames)+len(s.Actions)+len(s.Payments)+len(s.WeakIntents)+len(s.PatternHits) > 0
}

// HitCount is the number of distinct lexicon hits across all classes.
func (s Signals) HitCount() int {
	return len(s.CardNames) + len(s.Actions) + len(s.Payments) + len(s.WeakIntents)
}

// Keywords returns the query-keyword list shared by every card in a response:
// card names, actions, payments and weak intents in that order, de-duplicated.
func (s Signals) Keywords() []string {
	out := make([]string, 0, s.HitCount())
	for _, group := range [][]string{s.CardNames, s.Actions, s.Payments, s.WeakIntents} {
		out = appendUnique(out, group...)
	}
	return out
}

// Clone returns a deep copy so callers can adjust slots without aliasing.
func (s Signals) Clone() Signals {
	c := s
	c.CardNames = slices.Clone(s.CardNames)
	c.Actions = slices.Clone(s.Actions)
	c.Payments = slices.Clone(s.Payments)
	c.WeakIntents = slices.Clone(s.WeakIntents)
	c.PatternHits = slices.Clone(s.PatternHits)
	c.Terms = slices.Clone(s.Terms)
	return c
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		if v != "" && !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
