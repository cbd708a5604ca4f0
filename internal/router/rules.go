package router

import (
	"slices"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/keyword"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/lexicon"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// phoneTerms mark a phone-number lookup. Words that merely contain 번호 are
// removed first (see phoneMasks).
var (
	phoneTerms = []string{"전화", "번호", "고객센터", "연락처", "콜센터", "대표번호", "ars"}
	phoneMasks = []string{"비밀번호", "카드번호", "계좌번호", "승인번호"}
)

// forceRule fixes the route when one subject and one action both occur in
// the normalized text.
type forceRule struct {
	name     string
	subjects []string
	actions  []string
	route    Route
}

var forceRules = []forceRule{
	{"applepay_register", []string{"애플페이"}, []string{"등록", "추가", "연동"}, RouteCardUsage},
	{"transit_usage", []string{"교통카드", "후불교통"}, []string{"충전", "환불", "안돼", "안 돼", "안되", "등록"}, RouteCardUsage},
	{"narasarang_loss", []string{"나라사랑"}, []string{"분실", "잃어", "도난", "재발급", "정지"}, RouteCardUsage},
	{"kpass_benefit", []string{"k-패스", "k패스"}, []string{"혜택", "다자녀", "할인", "적립", "환급"}, RouteCardInfo},
	{"annual_fee", []string{"연회비"}, []string{"얼마", "면제", "청구", "나와"}, RouteCardInfo},
	{"card_loss", []string{"카드"}, []string{"잃어", "분실", "도난", "도둑"}, RouteCardUsage},
	{"limit_change", []string{"한도"}, []string{"올려", "상향", "늘려", "낮춰", "하향"}, RouteCardUsage},
}

func matchForceRule(text string) (forceRule, bool) {
	for _, r := range forceRules {
		if containsAny(text, r.subjects...) && containsAny(text, r.actions...) {
			return r, true
		}
	}
	return forceRule{}, false
}

// Loss refinement vocabulary.
var (
	lossBare       = []string{"분실", "도난"}
	strongLoss     = []string{"분실", "도난", "잃어", "도둑", "훔쳐", "없어졌", "소매치기"}
	infoLike       = []string{"혜택", "연회비", "추천", "실적", "좋은 카드", "뭐가 좋", "어떤 카드"}
	lossActionToks = []string{"정지", "신고", "재발급", "부정사용", "막아", "차단", "해지"}
)

// refineLoss drops the bare loss actions unless the utterance really is about
// a loss: a strong loss token without info-like tokens, or a loss action.
func refineLoss(sig keyword.Signals, actions []string) []string {
	if !intersects(actions, lossBare) {
		return actions
	}
	text := sig.NormalizedText
	strong := containsAny(text, strongLoss...) || intersects(sig.PatternHits, []string{"분실", "도난", "부정사용"})
	info := containsAny(text, infoLike...) || intersects(sig.WeakIntents, []string{"혜택", "연회비", "추천", "실적"})
	lossAction := containsAny(text, lossActionToks...)
	if (strong && !info) || lossAction {
		return actions
	}
	return slices.DeleteFunc(slices.Clone(actions), func(a string) bool {
		return slices.Contains(lossBare, a)
	})
}

const maxCardCoreRunes = 18

// saneCardNames keeps the card names that are plausible and overlap the
// query.
func saneCardNames(names []string, text string) []string {
	q := lexicon.Compact(text)
	var out []string
	for _, n := range names {
		core := lexicon.CardCore(n)
		rc := []rune(core)
		if len(rc) < 2 || len(rc) > maxCardCoreRunes || lexicon.IsDevice(core) {
			continue
		}
		if overlaps(core, q) {
			out = append(out, n)
		}
	}
	return out
}

// overlaps applies the three overlap tests: bidirectional substring, a
// leading three-rune partial, or any common four-rune substring.
func overlaps(core, q string) bool {
	if q == "" {
		return false
	}
	if strings.Contains(q, core) || strings.Contains(core, q) {
		return true
	}
	rc := []rune(core)
	if len(rc) >= 3 && strings.Contains(q, string(rc[:3])) {
		return true
	}
	for i := 0; i+4 <= len(rc); i++ {
		if strings.Contains(q, string(rc[i:i+4])) {
			return true
		}
	}
	return false
}

// ruleInput is what the decision table sees.
type ruleInput struct {
	sig      keyword.Signals
	cards    []string
	actions  []string
	payments []string
	weak     []string
}

// decisionRule is one row of the base decision table.
type decisionRule struct {
	name       string
	when       func(ruleInput) bool
	route      func(ruleInput) Route
	intent     []string // overrides the intent filter when set
	confidence float64
}

var benefitTokens = []string{"혜택", "연회비", "실적", "다자녀", "추천"}

// weakRouteHint maps weak intents to the route they suggest.
var weakRouteHint = map[string]Route{
	"혜택":   RouteCardInfo,
	"연회비":  RouteCardInfo,
	"실적":   RouteCardInfo,
	"추천":   RouteCardInfo,
	"다자녀":  RouteCardInfo,
	"연락처":  RouteCardUsage,
	"사용방법": RouteCardUsage,
}

func fixed(r Route) func(ruleInput) Route {
	return func(ruleInput) Route { return r }
}

func weakHint(in ruleInput) Route {
	for _, w := range in.weak {
		if r, ok := weakRouteHint[w]; ok {
			return r
		}
	}
	return RouteCardInfo
}

// decisionTable is evaluated top to bottom; the first row whose predicate
// holds decides.
var decisionTable = []decisionRule{
	{
		name: "card_only",
		when: func(in ruleInput) bool {
			return len(in.cards) > 0 && len(in.actions) == 0 && len(in.payments) == 0 && len(in.weak) == 0
		},
		route:      fixed(RouteCardInfo),
		confidence: 0.5,
	},
	{
		name:       "reissue",
		when:       func(in ruleInput) bool { return slices.Contains(in.actions, "재발급") },
		route:      fixed(RouteCardUsage),
		intent:     []string{"재발급"},
		confidence: 0.8,
	},
	{
		name: "benefit",
		when: func(in ruleInput) bool {
			return intersects(in.weak, benefitTokens) && !in.sig.UsageStrong
		},
		route:      fixed(RouteCardInfo),
		confidence: 0.6,
	},
	{
		name: "info_hint",
		when: func(in ruleInput) bool {
			return in.sig.InfoHint && len(in.actions) == 0 && len(in.payments) == 0
		},
		route:      fixed(RouteCardInfo),
		confidence: 0.5,
	},
	{
		name:       "card_action",
		when:       func(in ruleInput) bool { return len(in.cards) > 0 && len(in.actions) > 0 },
		route:      fixed(RouteCardUsage),
		confidence: 0.8,
	},
	{
		name:       "card_payment",
		when:       func(in ruleInput) bool { return len(in.cards) > 0 && len(in.payments) > 0 },
		route:      fixed(RouteCardUsage),
		confidence: 0.6,
	},
	{
		name:       "card_weak",
		when:       func(in ruleInput) bool { return len(in.cards) > 0 && len(in.weak) > 0 },
		route:      weakHint,
		confidence: 0.5,
	},
	{
		name:       "action_only",
		when:       func(in ruleInput) bool { return len(in.actions) > 0 },
		route:      fixed(RouteCardUsage),
		confidence: 0.6,
	},
	{
		name:       "payment_only",
		when:       func(in ruleInput) bool { return len(in.payments) > 0 },
		route:      fixed(RouteCardUsage),
		confidence: 0.6,
	},
	{
		name:       "weak_only",
		when:       func(in ruleInput) bool { return len(in.weak) > 0 },
		route:      weakHint,
		confidence: 0.4,
	},
}

// Document-source tag lists per policy.
var policySources = map[Policy][]string{
	PolicyA: {types.SourceGuideMerged, types.SourceGuideGeneral},
	PolicyB: {types.SourceGuideMerged, types.SourceGuideGeneral, types.SourceGuideWithTerms},
	PolicyC: {types.SourceApplePay},
}

// policyRules select the scope policy; first match wins.
var policyRules = []struct {
	name   string
	when   func(d *Decision) bool
	policy Policy
}{
	{"applepay", func(d *Decision) bool { return d.ApplePayIntent != "" }, PolicyC},
	{"phone", func(d *Decision) bool { return d.Filters.PhoneLookup }, PolicyA},
	{"card_info_terms", func(d *Decision) bool {
		s := d.MatchedSignals
		return d.Route == RouteCardInfo && (len(d.Filters.CardNames) > 0 || len(s.Actions)+len(s.Payments) == 0)
	}, PolicyB},
	{"default", func(*Decision) bool { return true }, PolicyA},
}

// applySourcePolicy sets the policy, source lists and Apple Pay scoping.
func applySourcePolicy(d *Decision) {
	for _, r := range policyRules {
		if !r.when(d) {
			continue
		}
		d.DocumentSourcePolicy = r.policy
		d.DocumentSources = slices.Clone(policySources[r.policy])
		break
	}
	switch d.DocumentSourcePolicy {
	case PolicyC:
		d.ExcludeSources = []string{}
		if d.ApplePayIntent == keyword.ApplePayLoss {
			// cross-topic security documents are allowed for a lost device
			d.DocumentSources = append(d.DocumentSources, types.SourceGuideMerged)
			d.Filters.Intent = nil
			d.Filters.IDPrefix = ""
		} else {
			d.Filters.IDPrefix = types.SourceApplePay
		}
	default:
		d.ExcludeSources = []string{types.SourceApplePay}
		d.Filters.IDPrefix = ""
	}
}

func dbRouteFor(d Decision) DBRoute {
	switch {
	case d.ApplePayIntent != "", d.Filters.PhoneLookup:
		return DBGuide
	case d.Route == RouteCardInfo && len(d.Filters.CardNames) > 0:
		return DBBoth
	case d.Route == RouteCardInfo:
		return DBCard
	}
	return DBGuide
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
