package keyword

import (
	"sort"
	"strings"
	"sync"
)

// Part-of-speech tags produced by [RuleAnalyzer].
const (
	TagProperNoun = "NNP"
	TagNoun       = "NNG"
	TagPredicate  = "VV"
	TagForeign    = "SL"
)

// Morpheme is one analysed unit of an utterance.
type Morpheme struct {
	Surface string
	Tag     string
}

// Analyzer splits text into morphemes. Implementations must be safe for
// concurrent use.
type Analyzer interface {
	Analyze(text string) ([]Morpheme, error)
}

// DictionaryAnalyzer is an [Analyzer] that accepts user-dictionary entries.
type DictionaryAnalyzer interface {
	Analyzer
	SetUserDictionary(words []string)
}

// josa and verbal endings stripped from the tail of a token, longest first.
var suffixes = func() []string {
	s := []string{
		"이에요", "예요", "이요", "에서", "으로", "에게", "한테", "까지", "부터", "이랑", "처럼",
		"인데요", "인데", "은요", "는요", "이나", "이고",
		"을", "를", "이", "가", "은", "는", "에", "로", "와", "과", "도", "만", "요", "랑", "의",
	}
	sort.SliceStable(s, func(i, j int) bool { return len(s[i]) > len(s[j]) })
	return s
}()

// predicateEndings mark a token as a predicate once the stem is removed.
var predicateEndings = []string{
	"했어요", "했는데", "하려고", "하려는데", "하고", "해요", "해서", "하는", "할게요", "할래요", "하고싶어요",
	"됐어요", "되나요", "돼요", "되요", "됩니다", "었어요", "았어요", "어요", "아요", "나요", "까요", "싶어요", "습니다",
}

// RuleAnalyzer is a dictionary-first suffix-stripping analyzer for Korean.
// Dictionary entries are kept whole; other tokens lose trailing josa and
// verbal endings. It is the default when no external analyzer is configured.
type RuleAnalyzer struct {
	mu   sync.RWMutex
	dict []string // longest first
}

var _ DictionaryAnalyzer = (*RuleAnalyzer)(nil)

// NewRuleAnalyzer returns an analyzer with an empty user dictionary.
func NewRuleAnalyzer() *RuleAnalyzer {
	return &RuleAnalyzer{}
}

// SetUserDictionary replaces the user dictionary.
func (a *RuleAnalyzer) SetUserDictionary(words []string) {
	d := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && !strings.Contains(w, " ") {
			d = append(d, w)
		}
	}
	sort.SliceStable(d, func(i, j int) bool { return len(d[i]) > len(d[j]) })
	a.mu.Lock()
	a.dict = d
	a.mu.Unlock()
}

// Analyze implements [Analyzer].
func (a *RuleAnalyzer) Analyze(text string) ([]Morpheme, error) {
	a.mu.RLock()
	dict := a.dict
	a.mu.RUnlock()

	var out []Morpheme
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		out = append(out, analyzeToken(tok, dict)...)
	}
	return out, nil
}

func analyzeToken(tok string, dict []string) []Morpheme {
	if isLatin(tok) {
		return []Morpheme{{Surface: tok, Tag: TagForeign}}
	}
	for _, w := range dict {
		if !strings.HasPrefix(tok, w) {
			continue
		}
		ms := []Morpheme{{Surface: w, Tag: TagProperNoun}}
		if rest := tok[len(w):]; rest != "" {
			ms = append(ms, analyzeToken(rest, dict)...)
		}
		return ms
	}
	for _, e := range predicateEndings {
		if stem, ok := strings.CutSuffix(tok, e); ok && stem != "" {
			return []Morpheme{{Surface: stem, Tag: TagPredicate}}
		}
	}
	if len(tok) >= 2 {
		for _, s := range suffixes {
			if stem, ok := strings.CutSuffix(tok, s); ok && len([]rune(stem)) >= 1 {
				return []Morpheme{{Surface: stem, Tag: TagNoun}}
			}
		}
	}
	return []Morpheme{{Surface: tok, Tag: TagNoun}}
}

func isLatin(s string) bool {
	for _, r := range s {
		if r >= 0x80 {
			return false
		}
	}
	return s != ""
}

// whitespaceTokens is the fallback when no analyzer is available.
func whitespaceTokens(text string) []Morpheme {
	fields := strings.Fields(text)
	out := make([]Morpheme, len(fields))
	for i, f := range fields {
		out[i] = Morpheme{Surface: f, Tag: TagNoun}
	}
	return out
}
