package keyword

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/lexicon"
)

const (
	defaultDirectThreshold  = 0.70
	defaultDerivedThreshold = 0.85
	minCoreRunes            = 2
	minFuzzyCoreRunes       = 3
)

// MatcherOption configures a [CardMatcher].
type MatcherOption func(*CardMatcher)

// WithDirectThreshold sets the minimum similarity for a text window whose
// sound key agrees with a card core. Default: 0.70.
func WithDirectThreshold(t float64) MatcherOption {
	return func(m *CardMatcher) { m.direct = t }
}

// WithDerivedThreshold sets the minimum similarity for morpheme-derived
// candidates and for windows without a sound-key agreement. Default: 0.85.
func WithDerivedThreshold(t float64) MatcherOption {
	return func(m *CardMatcher) { m.derived = t }
}

// CardMatcher finds card-product names in an utterance.
//
// Matching runs in three passes over each product's compact core (issuer and
// generic words removed):
//
//  1. Exact: the compact text contains a surface variant or the core.
//  2. Direct: a token window of the text shares the core's sound key
//     (Hangul initial consonants, or Double Metaphone codes for Latin) and
//     scores at least the direct threshold by Jaro-Winkler over jamo.
//  3. Derived: a noun morpheme scores at least the derived threshold.
//
// Device names and cores shorter than two runes never match. CardMatcher is
// read-only after construction and safe for concurrent use.
type CardMatcher struct {
	direct  float64
	derived float64
}

// NewCardMatcher returns a matcher with the default thresholds.
func NewCardMatcher(opts ...MatcherOption) *CardMatcher {
	m := &CardMatcher{direct: defaultDirectThreshold, derived: defaultDerivedThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// preparedCard is a product name with its precomputed comparison forms.
type preparedCard struct {
	name     string
	core     string
	coreJamo string
	keys     map[string]struct{}
	words    int
	variants []string
}

// preparedCards is built once per lexicon snapshot.
type preparedCards struct {
	cards    []preparedCard
	maxWords int
}

func prepareCards(synonyms map[string][]string) *preparedCards {
	names := make([]string, 0, len(synonyms))
	for n := range synonyms {
		names = append(names, n)
	}
	sort.Strings(names)

	pc := &preparedCards{}
	for _, n := range names {
		core := lexicon.CardCore(n)
		if len([]rune(core)) < minCoreRunes || lexicon.IsDevice(core) {
			continue
		}
		var variants []string
		for _, v := range synonyms[n] {
			if c := lexicon.Compact(v); len([]rune(c)) >= minCoreRunes {
				variants = append(variants, c)
			}
		}
		words := len(strings.Fields(n))
		if words > pc.maxWords {
			pc.maxWords = words
		}
		pc.cards = append(pc.cards, preparedCard{
			name:     n,
			core:     core,
			coreJamo: jamo(core),
			keys:     soundKeys([]string{core}),
			words:    words,
			variants: variants,
		})
	}
	return pc
}

// Match returns the product names found in text, in the order their cores
// first appear. morphemes are the analyzer's noun candidates.
func (m *CardMatcher) Match(text string, morphemes []string, pc *preparedCards) []string {
	if pc == nil || len(pc.cards) == 0 {
		return nil
	}
	compact := lexicon.Compact(text)
	tokens := strings.Fields(strings.ToLower(text))

	type hit struct {
		name string
		pos  int
	}
	var hits []hit
	seen := make(map[string]bool)
	add := func(name string, pos int) {
		if !seen[name] {
			seen[name] = true
			hits = append(hits, hit{name, pos})
		}
	}

	for _, c := range pc.cards {
		if pos := exactPos(compact, c); pos >= 0 {
			add(c.name, pos)
			continue
		}
		if len([]rune(c.core)) < minFuzzyCoreRunes {
			continue
		}
		if pos, ok := m.directMatch(tokens, c, pc.maxWords); ok {
			add(c.name, len(compact)+pos)
			continue
		}
		for i, mo := range morphemes {
			if lexicon.IsDevice(mo) || len([]rune(mo)) < minCoreRunes {
				continue
			}
			if matchr.JaroWinkler(jamo(lexicon.Compact(mo)), c.coreJamo, false) >= m.derived {
				add(c.name, 2*len(compact)+i)
				break
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.name
	}
	return out
}

func exactPos(compact string, c preparedCard) int {
	best := -1
	for _, v := range append([]string{c.core}, c.variants...) {
		if i := strings.Index(compact, v); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// directMatch slides token windows of up to maxWords over tokens.
func (m *CardMatcher) directMatch(tokens []string, c preparedCard, maxWords int) (int, bool) {
	if maxWords < 1 {
		maxWords = 1
	}
	for i := range tokens {
		for n := 1; n <= maxWords && i+n <= len(tokens); n++ {
			window := lexicon.Compact(strings.Join(tokens[i:i+n], ""))
			if lexicon.IsDevice(window) {
				continue
			}
			window = trimJosa(window)
			if !codesOverlap(soundKeys([]string{window}), c.keys) {
				continue
			}
			if matchr.JaroWinkler(jamo(window), c.coreJamo, false) >= m.direct {
				return i, true
			}
		}
	}
	return 0, false
}

func trimJosa(s string) string {
	for _, suf := range suffixes {
		if stem, ok := strings.CutSuffix(s, suf); ok && len([]rune(stem)) >= minCoreRunes {
			return stem
		}
	}
	return s
}

// soundKeys returns the union of sound keys for words: the initial-consonant
// skeleton for Hangul and the Double Metaphone codes for Latin words.
func soundKeys(words []string) map[string]struct{} {
	keys := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		if isLatin(w) {
			p, s := matchr.DoubleMetaphone(w)
			if p != "" {
				keys[p] = struct{}{}
			}
			if s != "" {
				keys[s] = struct{}{}
			}
			continue
		}
		if k := choseong(w); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// Hangul syllable decomposition tables (compatibility jamo).
var (
	leads  = []rune("ㄱㄲㄴㄷㄸㄹㅁㅂㅃㅅㅆㅇㅈㅉㅊㅋㅌㅍㅎ")
	vowels = []rune("ㅏㅐㅑㅒㅓㅔㅕㅖㅗㅘㅙㅚㅛㅜㅝㅞㅟㅠㅡㅢㅣ")
	tails  = []rune(" ㄱㄲㄳㄴㄵㄶㄷㄹㄺㄻㄼㄽㄾㄿㅀㅁㅂㅄㅅㅆㅇㅈㅊㅋㅌㅍㅎ")
)

const (
	hangulBase = 0xAC00
	hangulLast = 0xD7A3
)

// jamo decomposes Hangul syllables into their letters so that string
// similarity sees "재발굽" and "재발급" as one letter apart.
func jamo(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < hangulBase || r > hangulLast {
			b.WriteRune(r)
			continue
		}
		idx := int(r - hangulBase)
		b.WriteRune(leads[idx/588])
		b.WriteRune(vowels[(idx%588)/28])
		if t := idx % 28; t != 0 {
			b.WriteRune(tails[t])
		}
	}
	return b.String()
}

// choseong returns the initial consonants of the Hangul syllables in s, with
// non-Hangul runes kept as they are.
func choseong(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < hangulBase || r > hangulLast {
			b.WriteRune(r)
			continue
		}
		b.WriteRune(leads[int(r-hangulBase)/588])
	}
	return b.String()
}
