package retriever

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/lexicon"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

var (
	lossTokens       = []string{"분실", "도난", "잃어", "도둑", "훔쳐", "없어졌", "소매치기"}
	applePayTokens   = []string{"애플페이", "applepay", "apple pay", "애플 페이", "wallet", "월렛"}
	serviceMgmtTerms = []string{"해지", "사용내역", "한도", "결제일", "조회", "취소"}
)

// queryText is the lowercased raw query plus the normalized text.
func queryText(query string, dec router.Decision) string {
	return strings.ToLower(query + " " + dec.MatchedSignals.NormalizedText)
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func mentionsLoss(dec router.Decision) bool {
	return containsAny(strings.ToLower(dec.MatchedSignals.NormalizedText), lossTokens) ||
		slices.ContainsFunc(dec.Filters.Intent, func(i string) bool { return containsAny(i, lossTokens) })
}

// filterRule drops contaminating documents when its condition holds.
type filterRule struct {
	name    string
	applies func(text string, dec router.Decision) bool
	drop    func(d types.Document, dec router.Decision) bool
}

var filterRules = []filterRule{
	{
		// Service-management questions never want the Apple Pay guides.
		name: "applepay_contamination",
		applies: func(text string, _ router.Decision) bool {
			return !containsAny(text, applePayTokens) && containsAny(text, serviceMgmtTerms)
		},
		drop: func(d types.Document, _ router.Decision) bool {
			return strings.HasPrefix(d.ID, applePayPrefix) || d.Mentions(applePayTokens...)
		},
	},
	{
		// A named card drops product rows for other cards.
		name: "card_mismatch",
		applies: func(_ string, dec router.Decision) bool {
			return len(dec.Filters.CardNames) > 0
		},
		drop: func(d types.Document, dec router.Decision) bool {
			if d.Table != types.TableProducts {
				return false
			}
			core := lexicon.CardCore(d.Title)
			if core == "" {
				return false
			}
			for _, n := range dec.Filters.CardNames {
				want := lexicon.CardCore(n)
				if want == "" || strings.Contains(core, want) || strings.Contains(want, core) {
					return false
				}
			}
			return true
		},
	},
}

// postFilter applies every filter rule. A rule that panics is skipped and
// the documents pass through it unchanged.
func postFilter(query string, dec router.Decision, docs []types.Document) []types.Document {
	text := queryText(query, dec)
	for _, rule := range filterRules {
		docs = applyFilter(rule, text, dec, docs)
	}
	return docs
}

func applyFilter(rule filterRule, text string, dec router.Decision, docs []types.Document) (out []types.Document) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("retriever: post-filter panicked", "rule", rule.name, "panic", p)
			out = docs
		}
	}()
	if !rule.applies(text, dec) {
		return docs
	}
	kept := make([]types.Document, 0, len(docs))
	for _, d := range docs {
		if !rule.drop(d, dec) {
			kept = append(kept, d)
		}
	}
	return kept
}

// pinRule pins fixed documents when its condition holds.
type pinRule struct {
	name   string
	match  func(text string, dec router.Decision) bool
	refs   []types.DocRef
	forced bool
}

var pinRules = []pinRule{
	{
		name: "narasarang_loss",
		match: func(text string, dec router.Decision) bool {
			return strings.Contains(lexicon.Compact(text), "나라사랑") && containsAny(text, lossTokens)
		},
		refs: []types.DocRef{
			{Table: types.TableGuide, ID: "narasarang_faq_005"},
			{Table: types.TableGuide, ID: "narasarang_faq_011"},
		},
		forced: true,
	},
	{
		name: "usage_loss",
		match: func(text string, dec router.Decision) bool {
			return dec.Route == router.RouteCardUsage && containsAny(text, lossTokens)
		},
		refs:   []types.DocRef{{Table: types.TableGuide, ID: "guide_loss_theft_merged"}},
		forced: true,
	},
	{
		name: "kpass_info",
		match: func(text string, dec router.Decision) bool {
			return dec.Route == router.RouteCardInfo && strings.Contains(lexicon.Compact(text), "k패스")
		},
		refs: []types.DocRef{
			{Table: types.TableProducts, ID: "CARD-SHINHAN-K-패스-신한카드"},
			{Table: types.TableProducts, ID: "CARD-SHINHAN-K-패스-신한카드(체크)"},
			{Table: types.TableProducts, ID: "CARD-KB-K-패스-KB국민카드"},
		},
	},
}

// matchPins returns the refs of every allowed matching rule in rule order,
// ranked from 1.
func matchPins(text string, dec router.Decision, top float64, withinBudget bool) []types.DocRef {
	var out []types.DocRef
	for _, rule := range pinRules {
		if !rule.match(text, dec) {
			continue
		}
		if !rule.forced && (top < pinMinTopScore || !withinBudget) {
			continue
		}
		for _, ref := range rule.refs {
			if slices.ContainsFunc(out, func(o types.DocRef) bool { return o.Table == ref.Table && o.ID == ref.ID }) {
				continue
			}
			ref.Pinned = true
			ref.PinRank = len(out) + 1
			out = append(out, ref)
		}
	}
	return out
}

// applyPins marks pinned documents already present and fetches the rest.
// A fetch failure drops the missing pins.
func (r *Retriever) applyPins(ctx context.Context, query string, dec router.Decision, docs []types.Document, withinBudget bool) []types.Document {
	pins := matchPins(queryText(query, dec), dec, topScore(docs), withinBudget)
	if len(pins) == 0 {
		return docs
	}

	var missing []types.DocRef
	for _, p := range pins {
		i := slices.IndexFunc(docs, func(d types.Document) bool { return d.Table == p.Table && d.ID == p.ID })
		if i >= 0 {
			docs[i].Pinned = true
			docs[i].PinRank = p.PinRank
			continue
		}
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return docs
	}

	fetched, err := r.corpus.FetchDocuments(ctx, missing)
	if err != nil {
		slog.Warn("retriever: pin fetch failed", "err", err)
		return docs
	}
	return append(docs, fetched...)
}
