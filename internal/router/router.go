// Package router converts an utterance and its keyword signals into a
// routing [Decision]: the answer class, the retrieval filters, the tables to
// search and the document-source scope policy.
//
// Every rule family lives in a declarative table in rules.go. [Router.Route]
// evaluates them in a fixed order:
//
//  1. vocabulary gate
//  2. phone-lookup intent
//  3. force rules
//  4. loss-intent refinement
//  5. card-name sanity
//  6. base decision table
//  7. document-source policy
//  8. consult-case search signal
//  9. sticky session context
//
// The router never mutates session state. Slot inheritance and clearing are
// reported in [Decision.Inherited] for the orchestrator to apply.
package router

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/keyword"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/session"
)

// Extractor produces keyword signals for an utterance.
type Extractor interface {
	Extract(text string) keyword.Signals
}

// Router is safe for concurrent use.
type Router struct {
	extractor         Extractor
	fresh             session.Freshness
	requireVocabMatch bool
	now               func() time.Time
}

// Option configures a [Router].
type Option func(*Router)

// WithFreshness overrides the sticky-slot freshness policy.
func WithFreshness(f session.Freshness) Option {
	return func(r *Router) { r.fresh = f }
}

// WithRequireVocabMatch controls utterances without any lexicon hit. When
// false, such an utterance may still search if the session holds fresh
// sticky slots. Default: true.
func WithRequireVocabMatch(v bool) Option {
	return func(r *Router) { r.requireVocabMatch = v }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New returns a Router that extracts signals with ex when the caller does
// not supply them.
func New(ex Extractor, opts ...Option) *Router {
	r := &Router{
		extractor:         ex,
		fresh:             session.DefaultFreshness(),
		requireVocabMatch: true,
		now:               time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Route decides how to answer text. sig may be nil, in which case the
// extractor runs; st may be nil for a stateless call and is only read.
func (r *Router) Route(text string, sig *keyword.Signals, st *session.State) (d Decision) {
	var s keyword.Signals
	if sig != nil {
		s = sig.Clone()
	} else {
		s = r.extractor.Extract(text)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("router: rule evaluation failed, skipping search", "err", rec)
			d = Empty(s)
		}
	}()

	// 1. vocabulary gate
	sticky := r.stickySlots(st)
	followUp := false
	if !s.Matched() {
		if r.requireVocabMatch || !sticky.any() || len(s.Terms) == 0 {
			return Empty(s)
		}
		// follow-up without vocabulary: fall back on the fresh slots
		followUp = true
		s.CardNames = sticky.cards
		if sticky.kind == session.IntentWeak {
			s.WeakIntents = sticky.intents
		} else {
			s.Actions = sticky.intents
		}
	}

	d = Decision{
		ShouldSearch:     true,
		MatchedSignals:   s,
		ApplePayIntent:   s.ApplePayIntent,
		DomainScore:      s.HitCount() + len(s.PatternHits),
		ExcludeSources:   []string{},
		DocumentSources:  []string{},
		IntentConfidence: 0.3,
	}

	text = s.NormalizedText
	actions := slices.Clone(s.Actions)

	// 2. phone lookup
	if isPhoneLookup(text) {
		d.Route = RouteCardUsage
		d.Filters.PhoneLookup = true
		d.Filters.CardNames = saneCardNames(s.CardNames, text)
		d.IntentConfidence = 0.7
		d.ApplePayIntent = ""
		r.finish(&d, st, sticky)
		return d
	}

	// 3. force rules
	forced, hasForced := matchForceRule(text)

	// 4. loss refinement
	actions = refineLoss(s, actions)

	// 5. card-name sanity; inherited names were vetted on their own turn
	cards := s.CardNames
	if !followUp {
		cards = saneCardNames(s.CardNames, text)
	}

	// 6. base decision table
	in := ruleInput{sig: s, cards: cards, actions: actions, payments: s.Payments, weak: s.WeakIntents}
	d.Filters.CardNames = cards
	d.Filters.Intent = actions
	d.Filters.Payments = slices.Clone(s.Payments)
	d.Filters.WeakIntents = slices.Clone(s.WeakIntents)

	d.Route = RouteNone
	for _, row := range decisionTable {
		if !row.when(in) {
			continue
		}
		d.Route = row.route(in)
		d.IntentConfidence = row.confidence
		if row.intent != nil {
			d.Filters.Intent = slices.Clone(row.intent)
		}
		break
	}
	if hasForced {
		d.Route = forced.route
		d.ForceRule = forced.name
		d.IntentConfidence = 0.9
	}
	if d.Route == RouteNone {
		return Empty(s)
	}
	if followUp {
		d.Inherited.CardNames = len(sticky.cards) > 0
		d.Inherited.Intents = len(sticky.intents) > 0
	}

	r.finish(&d, st, sticky)
	return d
}

// finish runs steps 7 to 9 and fills the derived fields.
func (r *Router) finish(d *Decision, st *session.State, sticky stickySlots) {
	s := d.MatchedSignals

	// 8. consult-case search signal
	d.NeedConsultCaseSearch = len(s.Actions)+len(s.Payments)+len(s.WeakIntents) > 0

	// 9. sticky context
	if st != nil {
		if len(d.Filters.CardNames) == 0 {
			if len(sticky.cards) > 0 {
				d.Filters.CardNames = slices.Clone(sticky.cards)
				d.Inherited.CardNames = true
			} else if len(st.CardNames) > 0 {
				d.Inherited.ClearCardNames = true
			}
		}
		if len(d.Filters.Intent) == 0 && len(d.Filters.WeakIntents) == 0 {
			if len(sticky.intents) > 0 {
				if sticky.kind == session.IntentWeak {
					d.Filters.WeakIntents = slices.Clone(sticky.intents)
				} else {
					d.Filters.Intent = slices.Clone(sticky.intents)
				}
				d.Inherited.Intents = true
			} else if len(st.Intents) > 0 {
				d.Inherited.ClearIntents = true
			}
		}
	}

	switch {
	case len(d.Filters.Intent) > 0:
		d.IntentKind = string(session.IntentStrong)
	case len(d.Filters.WeakIntents) > 0:
		d.IntentKind = string(session.IntentWeak)
	}

	// 7. source policy, after inheritance so inherited card names count
	d.DBRoute = dbRouteFor(*d)
	applySourcePolicy(d)
	d.QueryTemplate = queryTemplate(*d)
}

type stickySlots struct {
	cards   []string
	intents []string
	kind    session.IntentKind
}

func (s stickySlots) any() bool { return len(s.cards)+len(s.intents) > 0 }

func (r *Router) stickySlots(st *session.State) stickySlots {
	if st == nil {
		return stickySlots{}
	}
	now := r.now()
	intents, kind := st.FreshIntents(r.fresh, now)
	return stickySlots{cards: st.FreshCardNames(r.fresh, now), intents: intents, kind: kind}
}

func isPhoneLookup(text string) bool {
	for _, m := range phoneMasks {
		text = strings.ReplaceAll(text, m, " ")
	}
	return containsAny(text, phoneTerms...)
}

// queryTemplate is the canonical keyword form of the decision, used as the
// lexical search terms and as part of the card-cache key.
func queryTemplate(d Decision) string {
	var parts []string
	for _, group := range [][]string{d.Filters.CardNames, d.Filters.Intent, d.Filters.Payments, d.Filters.WeakIntents} {
		for _, v := range group {
			if !slices.Contains(parts, v) {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, " ")
}
