package keyword

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/lexicon"
)

// class of a surface form in the compiled index.
type class int

const (
	classAction class = iota
	classWeakIntent
	classPayment
)

type formEntry struct {
	form      string // compact
	canonical string
	class     class
}

// index is everything derived from one lexicon snapshot.
type index struct {
	snap      *lexicon.Snapshot
	forms     []formEntry // longest form first
	cards     *preparedCards
	protected []string
}

// patternActions maps compound-pattern categories that are not themselves
// canonical actions onto the action they imply.
var patternActions = map[string]string{
	"등록오류": "등록",
}

// paymentAbbreviations promote to the full payment name only when a payment
// context pattern also matches and the abbreviation is not followed by 카드.
var paymentAbbreviations = []struct {
	short, full string
}{
	{"네이버", "네이버페이"},
	{"삼성", "삼성페이"},
	{"카카오", "카카오페이"},
	{"토스", "토스페이"},
	{"애플", "애플페이"},
}

var paymentContextRe = regexp.MustCompile(`(결제|페이|pay|간편|등록|연동|충전|앱)`)

var (
	infoHintTerms  = []string{"혜택", "연회비", "추천", "어떤 카드", "뭐가 좋", "알려", "조건", "실적", "차이", "종류"}
	issuanceTerms  = []string{"발급", "신청", "만들", "가입"}
	strongUsage    = []string{"분실", "도난", "정지", "재발급", "해지", "결제", "취소", "한도", "결제일", "비밀번호", "부정사용", "연체", "등록"}
	lossCanonicals = []string{"분실", "도난", "부정사용"}
)

// Extractor turns utterances into [Signals]. It is safe for concurrent use.
type Extractor struct {
	lex      *lexicon.Loader
	analyzer Analyzer
	matcher  *CardMatcher

	mu  sync.Mutex
	idx *index
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithAnalyzer replaces the default [RuleAnalyzer]. Passing nil disables
// morphological analysis; tokens then come from whitespace splitting.
func WithAnalyzer(a Analyzer) Option {
	return func(e *Extractor) { e.analyzer = a }
}

// WithCardMatcher replaces the default card-name matcher.
func WithCardMatcher(m *CardMatcher) Option {
	return func(e *Extractor) { e.matcher = m }
}

// New returns an Extractor reading the lexicon from lex.
func New(lex *lexicon.Loader, opts ...Option) *Extractor {
	e := &Extractor{
		lex:      lex,
		analyzer: NewRuleAnalyzer(),
		matcher:  NewCardMatcher(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Warmup compiles the index for the current lexicon snapshot, loads the
// analyzer's user dictionary and pre-analyses the typo-table targets.
func (e *Extractor) Warmup() {
	idx := e.index()
	if e.analyzer == nil {
		return
	}
	safeStep("warmup", func() {
		for _, r := range typoRules {
			if _, err := e.analyzer.Analyze(r.to); err != nil {
				slog.Warn("keyword: warmup analysis failed", "form", r.to, "err", err)
				return
			}
		}
	})
	slog.Debug("keyword extractor warmed up",
		"forms", len(idx.forms),
		"cards", len(idx.cards.cards),
	)
}

// index returns the compiled index, rebuilding it when the lexicon snapshot
// has changed since the last call.
func (e *Extractor) index() *index {
	snap := e.lex.Current()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.idx != nil && e.idx.snap == snap {
		return e.idx
	}
	e.idx = buildIndex(snap)
	if da, ok := e.analyzer.(DictionaryAnalyzer); ok {
		dict := make([]string, 0, len(e.idx.forms)+len(e.idx.cards.cards))
		for _, f := range e.idx.forms {
			dict = append(dict, f.form)
		}
		for _, c := range e.idx.cards.cards {
			dict = append(dict, c.core)
		}
		da.SetUserDictionary(dict)
	}
	return e.idx
}

func buildIndex(snap *lexicon.Snapshot) *index {
	idx := &index{snap: snap, cards: prepareCards(snap.CardNameSynonyms)}
	seen := make(map[string]bool)
	for _, group := range []struct {
		m map[string][]string
		c class
	}{
		{snap.ActionSynonyms, classAction},
		{snap.WeakIntentSynonyms, classWeakIntent},
		{snap.PaymentSynonyms, classPayment},
	} {
		for canonical, forms := range group.m {
			for _, f := range forms {
				cf := lexicon.Compact(f)
				if cf == "" || seen[cf] {
					continue
				}
				seen[cf] = true
				idx.forms = append(idx.forms, formEntry{form: cf, canonical: canonical, class: group.c})
			}
		}
	}
	sort.Slice(idx.forms, func(i, j int) bool {
		li, lj := len([]rune(idx.forms[i].form)), len([]rune(idx.forms[j].form))
		if li != lj {
			return li > lj
		}
		return idx.forms[i].form < idx.forms[j].form
	})
	for _, variants := range snap.CardNameSynonyms {
		idx.protected = append(idx.protected, variants...)
	}
	sort.Strings(idx.protected)
	return idx
}

// Extract analyses text. It never fails: a sub-step that panics or errors is
// logged and contributes nothing.
func (e *Extractor) Extract(text string) Signals {
	idx := e.index()
	sig := Signals{}

	lowered := strings.ToLower(strings.Join(strings.Fields(text), " "))
	corrected := lowered
	safeStep("typo", func() {
		corrected = strings.Join(strings.Fields(correctTypos(lowered, idx.protected)), " ")
	})
	sig.NormalizedText = corrected

	morphemes := whitespaceTokens(corrected)
	if e.analyzer != nil {
		safeStep("analyze", func() {
			ms, err := e.analyzer.Analyze(corrected)
			if err != nil {
				panic(fmt.Errorf("analyzer: %w", err))
			}
			morphemes = ms
		})
	}

	consumed := make([]bool, len(morphemes))

	safeStep("lexicon", func() {
		for _, h := range matchForms(lexicon.Compact(corrected), idx.forms) {
			switch h.class {
			case classAction:
				sig.Actions = appendUnique(sig.Actions, h.canonical)
			case classWeakIntent:
				sig.WeakIntents = appendUnique(sig.WeakIntents, h.canonical)
			case classPayment:
				sig.Payments = appendUnique(sig.Payments, h.canonical)
			}
			for i, m := range morphemes {
				if strings.Contains(h.form, lexicon.Compact(m.Surface)) || strings.Contains(lexicon.Compact(m.Surface), h.form) {
					consumed[i] = true
				}
			}
		}
	})

	safeStep("patterns", func() {
		for _, p := range idx.snap.CompoundPatterns {
			if !p.Re.MatchString(corrected) {
				continue
			}
			sig.PatternHits = appendUnique(sig.PatternHits, p.Category)
			if _, ok := idx.snap.ActionSynonyms[p.Category]; ok {
				sig.Actions = appendUnique(sig.Actions, p.Category)
			} else if a, ok := patternActions[p.Category]; ok {
				sig.Actions = appendUnique(sig.Actions, a)
			}
		}
	})

	safeStep("payment_context", func() {
		if !paymentContextRe.MatchString(corrected) {
			return
		}
		for _, ab := range paymentAbbreviations {
			i := strings.Index(corrected, ab.short)
			if i < 0 {
				continue
			}
			rest := strings.TrimLeft(corrected[i+len(ab.short):], " ")
			if strings.HasPrefix(rest, "카드") {
				continue
			}
			sig.Payments = appendUnique(sig.Payments, ab.full)
		}
	})

	safeStep("card_names", func() {
		var nouns []string
		for i, m := range morphemes {
			if !consumed[i] && (m.Tag == TagNoun || m.Tag == TagProperNoun || m.Tag == TagForeign) {
				nouns = append(nouns, m.Surface)
			}
		}
		sig.CardNames = e.matcher.Match(corrected, nouns, idx.cards)
	})

	safeStep("terms", func() {
		for i, m := range morphemes {
			if consumed[i] || idx.snap.IsStopword(m.Surface) || m.Tag == TagPredicate {
				continue
			}
			if len([]rune(m.Surface)) < 2 {
				continue
			}
			sig.Terms = appendUnique(sig.Terms, m.Surface)
		}
	})

	safeStep("hints", func() {
		sig.ApplePayIntent = applePayIntent(sig)
		sig.InfoHint = containsAny(corrected, infoHintTerms...)
		sig.UsageStrong = intersects(sig.Actions, strongUsage)
		sig.IssuanceHint = intersects(sig.Actions, []string{"발급", "신청", "재발급"}) || containsAny(corrected, issuanceTerms...)
	})

	return sig
}

type formHit struct {
	formEntry
	pos int
}

// matchForms finds lexicon forms in compact text, longest first. A matched
// span is masked so that shorter forms inside it do not fire. Hits are
// returned in text order.
func matchForms(compact string, forms []formEntry) []formHit {
	masked := []rune(compact)
	var hits []formHit
	for _, f := range forms {
		fr := []rune(f.form)
		for start := 0; start+len(fr) <= len(masked); start++ {
			if string(masked[start:start+len(fr)]) != f.form {
				continue
			}
			hits = append(hits, formHit{formEntry: f, pos: start})
			for k := start; k < start+len(fr); k++ {
				masked[k] = 0
			}
			start += len(fr) - 1
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	return hits
}

// applePayTable is checked top to bottom; the first rule whose predicate
// holds names the sub-intent.
var applePayTable = []struct {
	intent string
	when   func(Signals) bool
}{
	{ApplePayLoss, func(s Signals) bool {
		return intersects(s.Actions, lossCanonicals) || intersects(s.PatternHits, lossCanonicals)
	}},
	{ApplePayAddCard, func(s Signals) bool {
		return slices.Contains(s.Actions, "등록") || slices.Contains(s.PatternHits, "등록오류")
	}},
	{ApplePayTransit, func(s Signals) bool {
		return slices.Contains(s.Payments, "교통카드") || strings.Contains(s.NormalizedText, "교통")
	}},
	{ApplePayPayment, func(s Signals) bool {
		return slices.Contains(s.Actions, "결제") || slices.Contains(s.Actions, "취소") || containsAny(s.NormalizedText, "안돼", "안 돼", "안되", "안 되")
	}},
	{ApplePayGeneral, func(Signals) bool { return true }},
}

func applePayIntent(s Signals) string {
	if !slices.Contains(s.Payments, "애플페이") {
		return ""
	}
	for _, r := range applePayTable {
		if r.when(s) {
			return r.intent
		}
	}
	return ""
}

func safeStep(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("keyword: extraction step failed", "step", name, "err", r)
		}
	}()
	fn()
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
