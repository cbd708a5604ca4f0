package guide

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

const (
	minDetailRunes = 6
	maxDetailRunes = 160
)

var (
	speakerRe     = regexp.MustCompile(`(?i)(^|\s)(손님|고객님?|상담사|상담원|agent|customer|assistant)\s*[:：]\s*`)
	citationRe    = regexp.MustCompile(`(?:문서|자료|출처|참고)\s*\d*\s*에\s*따르면,?|\[(?:문서|출처|참고)[^\]]*\]|\((?:문서|출처|참고)[^)]*\)|\S+\.(?:pdf|hwp|docx?|xlsx?)\b|제\s*\d+\s*조(?:\s*제?\s*\d+\s*항)?`)
	placeholderRe = regexp.MustCompile(`\[[^\]]*\]|\{[^}]*\}|<[^>]*>|#\d+`)
	bulletRe      = regexp.MustCompile(`(?m)^\s*(?:[-*•·]|\d+[.)]|#+)\s+`)
	quoteRe       = regexp.MustCompile(`^["'“”‘’]+|["'“”‘’]+$`)
)

// softenings turn over-promises into statements of possibility.
var softenings = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`즉시\s*처리해\s*드리겠습니다`), "즉시 처리할 수 있습니다"},
	{regexp.MustCompile(`바로\s*해결해\s*드리겠습니다`), "바로 해결할 수 있습니다"},
	{regexp.MustCompile(`반드시\s*([^\s.]+)해\s*드리겠습니다`), "${1}할 수 있습니다"},
	{regexp.MustCompile(`(처리|해결|환불|취소|재발급|발급|해지)해\s*드리겠습니다`), "${1}할 수 있습니다"},
	{regexp.MustCompile(`(처리|해결|환불|취소|재발급|발급|해지)\s*(?:됩니다|될\s*겁니다|될\s*것입니다)`), "${1}될 수 있습니다"},
	{regexp.MustCompile(`100\s*%\s*`), ""},
}

// scrub removes speaker tags, citations, placeholders and contact details.
func scrub(s string) string {
	s = bulletRe.ReplaceAllString(s, "")
	s = speakerRe.ReplaceAllString(s, "$1")
	s = citationRe.ReplaceAllString(s, "")
	s = placeholderRe.ReplaceAllString(s, "")
	s = compose.StripContacts(s)
	return quoteRe.ReplaceAllString(s, "")
}

func soften(s string) string {
	for _, r := range softenings {
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}

// canon is the comparison form used by Grounded.
func canon(s string) string {
	s = strings.ToLower(soften(scrub(s)))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func corpusText(docs []types.Document) string {
	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString(d.Title)
		sb.WriteByte('\n')
		sb.WriteString(d.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Grounded reports whether every sentence of script appears in the
// concatenated document contents after whitespace normalisation, or is one
// of the fixed openers and questions. A canonical fallback script is always
// grounded.
func Grounded(script string, docs []types.Document) bool {
	script = compose.CollapseSpace(script)
	if script == "" {
		return len(docs) == 0
	}
	for _, f := range Fallbacks() {
		if script == f {
			return true
		}
	}
	corpus := canon(corpusText(docs))
	for _, s := range compose.Sentences(script) {
		if isTemplateSentence(s) {
			continue
		}
		c := canon(s)
		if c == "" || !strings.Contains(corpus, strings.TrimRight(c, ".!?")) {
			return false
		}
	}
	return true
}

// draft is a cleaned LLM reply split into statements and questions.
type draft struct {
	statements []string
	questions  []string
}

func parseDraft(raw string) draft {
	var d draft
	for _, s := range compose.Sentences(compose.StripFences(raw)) {
		s = compose.CollapseSpace(soften(scrub(s)))
		if utf8.RuneCountInString(s) < 2 {
			continue
		}
		if strings.HasSuffix(s, "?") || strings.HasSuffix(s, "？") {
			d.questions = append(d.questions, s)
		} else {
			d.statements = append(d.statements, s)
		}
	}
	return d
}

// Normalize turns a raw LLM reply into the final script: an intent opener,
// one document sentence carrying a concrete detail, and one allowed
// question. The reply only steers which sentence and question are chosen,
// so the result is grounded whatever the model wrote. With no usable
// document sentence the canonical fallback of the intent is returned.
func Normalize(raw string, in Input) string {
	intent := IntentOf(in.Query, in.Decision)
	d := parseDraft(raw)

	opener := templates[intent].opener
	if len(d.statements) > 0 && len(in.Docs) > 0 && Grounded(d.statements[0], in.Docs) {
		opener = d.statements[0]
	}

	hints := append(queryTerms(in), d.statements...)
	detail := detailSentence(limitDocs(in.Docs), hints, opener)
	if detail == "" {
		return Fallback(intent)
	}
	return strings.Join([]string{opener, detail, pickQuestion(intent, d.questions)}, " ")
}

// Salvage builds the minimum script from the first document alone. It is
// used when the LLM is unavailable or its reply is unusable.
func Salvage(in Input) string {
	intent := IntentOf(in.Query, in.Decision)
	if len(in.Docs) == 0 {
		return Fallback(intent)
	}
	t := templates[intent]
	detail := detailSentence(in.Docs[:1], queryTerms(in), t.opener)
	if detail == "" {
		return Fallback(intent)
	}
	return strings.Join([]string{t.opener, detail, t.questions[0]}, " ")
}

// detailSentence picks the document sentence that best matches hints not
// already in the document title, preferring sentences with numbers.
// Sentences that carried a phone number, URL or e-mail address are never
// picked: with the contact scrubbed they no longer say anything.
func detailSentence(docs []types.Document, hints []string, skip string) string {
	words := hintWords(hints)
	best, bestScore := "", math.MinInt
	for _, d := range docs {
		title := strings.ToLower(d.Title)
		for _, raw := range compose.Sentences(d.Content) {
			if compose.StripContacts(raw) != compose.CollapseSpace(raw) {
				continue
			}
			s := compose.CollapseSpace(scrub(raw))
			n := utf8.RuneCountInString(s)
			if n < minDetailRunes || n > maxDetailRunes || s == skip {
				continue
			}
			score := 0
			for _, w := range words {
				// title words name the document, not a detail of it
				if strings.Contains(title, w) {
					continue
				}
				if strings.Contains(strings.ToLower(s), w) {
					score += 2
				}
			}
			if strings.ContainsFunc(s, unicode.IsDigit) {
				score++
			}
			if score > bestScore {
				best, bestScore = s, score
			}
		}
	}
	// Sentences cut at a line break carry no terminal punctuation.
	if best != "" && !strings.HasSuffix(best, ".") && !strings.HasSuffix(best, "!") && !strings.HasSuffix(best, "?") {
		best += "."
	}
	return best
}

// hintWords splits hints into lowercased words of at least two runes.
func hintWords(hints []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, h := range hints {
		for _, w := range strings.Fields(strings.ToLower(h)) {
			w = strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) })
			w = trimParticle(w)
			if utf8.RuneCountInString(w) < 2 {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

var particles = []string{"으로", "에서", "에게", "까지", "부터", "은", "는", "이", "가", "을", "를", "의", "에", "로", "도", "만", "와", "과"}

// trimParticle drops one trailing Korean particle, keeping at least two
// runes.
func trimParticle(w string) string {
	for _, p := range particles {
		if rest, ok := strings.CutSuffix(w, p); ok && utf8.RuneCountInString(rest) >= 2 {
			return rest
		}
	}
	return w
}

func queryTerms(in Input) []string {
	terms := []string{in.Query}
	terms = append(terms, in.Decision.MatchedSignals.Keywords()...)
	return terms
}
