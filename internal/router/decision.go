package router

import (
	"slices"
	"sort"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/keyword"
)

// Route names the answer class of an utterance.
type Route string

// Phone-number lookups are routed as card_usage with Filters.PhoneLookup set.
const (
	RouteCardInfo  Route = "card_info"
	RouteCardUsage Route = "card_usage"
	RouteNone      Route = "none"
)

// Flip returns the opposite of a card route; other routes are returned as-is.
func (r Route) Flip() Route {
	switch r {
	case RouteCardInfo:
		return RouteCardUsage
	case RouteCardUsage:
		return RouteCardInfo
	}
	return r
}

// DBRoute selects which corpus tables a search may touch.
type DBRoute string

const (
	DBCard  DBRoute = "card"
	DBGuide DBRoute = "guide"
	DBBoth  DBRoute = "both"
)

// Policy is a document-source scope policy.
type Policy string

const (
	// PolicyA searches the merged and general service guides.
	PolicyA Policy = "A"
	// PolicyB adds the guides carrying product terms.
	PolicyB Policy = "B"
	// PolicyC narrows to the Apple Pay guides.
	PolicyC Policy = "C"
)

// Filters restrict a retrieval.
type Filters struct {
	Intent      []string `json:"intent,omitempty"`
	CardNames   []string `json:"card_name,omitempty"`
	Payments    []string `json:"payment,omitempty"`
	WeakIntents []string `json:"weak_intent,omitempty"`
	PhoneLookup bool     `json:"phone_lookup,omitempty"`
	IDPrefix    string   `json:"id_prefix,omitempty"`
}

// Entries returns the filters as sorted "key=value" strings. Multi-valued
// filters are sorted within the entry so the result is order-independent.
func (f Filters) Entries() []string {
	var out []string
	add := func(k string, vals []string) {
		if len(vals) == 0 {
			return
		}
		v := slices.Clone(vals)
		sort.Strings(v)
		out = append(out, k+"="+strings.Join(v, ","))
	}
	add("intent", f.Intent)
	add("card_name", f.CardNames)
	add("payment", f.Payments)
	add("weak_intent", f.WeakIntents)
	if f.PhoneLookup {
		out = append(out, "phone_lookup=true")
	}
	if f.IDPrefix != "" {
		out = append(out, "id_prefix="+f.IDPrefix)
	}
	sort.Strings(out)
	return out
}

func (f Filters) clone() Filters {
	c := f
	c.Intent = slices.Clone(f.Intent)
	c.CardNames = slices.Clone(f.CardNames)
	c.Payments = slices.Clone(f.Payments)
	c.WeakIntents = slices.Clone(f.WeakIntents)
	return c
}

// Inheritance records how sticky session slots were used for a decision.
// The orchestrator applies it to the session after retrieval.
type Inheritance struct {
	CardNames      bool `json:"card_name,omitempty"`
	Intents        bool `json:"intent,omitempty"`
	ClearCardNames bool `json:"-"`
	ClearIntents   bool `json:"-"`
}

// Decision is the routing result for one utterance.
type Decision struct {
	Route                 Route           `json:"route"`
	Filters               Filters         `json:"filters"`
	DBRoute               DBRoute         `json:"db_route"`
	DocumentSources       []string        `json:"document_sources"`
	ExcludeSources        []string        `json:"exclude_sources"`
	DocumentSourcePolicy  Policy          `json:"document_source_policy"`
	ShouldSearch          bool            `json:"should_search"`
	QueryTemplate         string          `json:"query_template,omitempty"`
	MatchedSignals        keyword.Signals `json:"matched_signals"`
	ApplePayIntent        string          `json:"applepay_intent,omitempty"`
	NeedConsultCaseSearch bool            `json:"need_consult_case_search"`
	DomainScore           int             `json:"domain_score"`
	IntentConfidence      float64         `json:"intent_confidence"`
	IntentKind            string          `json:"intent_kind,omitempty"`
	ForceRule             string          `json:"force_rule,omitempty"`
	Inherited             Inheritance     `json:"inherited"`
}

// Clone returns a copy that shares no slices with d.
func (d Decision) Clone() Decision {
	c := d
	c.Filters = d.Filters.clone()
	c.DocumentSources = slices.Clone(d.DocumentSources)
	c.ExcludeSources = slices.Clone(d.ExcludeSources)
	c.MatchedSignals = d.MatchedSignals.Clone()
	return c
}

// WithRoute returns a copy of d re-targeted to r, with the table route and
// source policy recomputed.
func (d Decision) WithRoute(r Route) Decision {
	c := d.Clone()
	c.Route = r
	c.DBRoute = dbRouteFor(c)
	applySourcePolicy(&c)
	return c
}

// Empty returns the decision used when an utterance does not warrant a
// search.
func Empty(sig keyword.Signals) Decision {
	return Decision{
		Route:           RouteNone,
		DBRoute:         DBGuide,
		DocumentSources: []string{},
		ExcludeSources:  []string{},
		MatchedSignals:  sig,
	}
}
