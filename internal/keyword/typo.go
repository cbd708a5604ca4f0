package keyword

import (
	"sort"
	"strings"
)

// typoTable maps common STT mis-hearings to their canonical form. Entries are
// matched against lowercased text.
var typoTable = map[string]string{
	"케이패스":  "k-패스",
	"케이 패스": "k-패스",
	"k패스":   "k-패스",
	"k 패스":  "k-패스",
	"나라 사랑": "나라사랑",
	"에플페이":  "애플페이",
	"애플 페이": "애플페이",
	"애플패이":  "애플페이",
	"에플 페이": "애플페이",
	"삼성 페이": "삼성페이",
	"네이버 페이": "네이버페이",
	"카카오 페이": "카카오페이",
	"토스 페이": "토스페이",
	"국민행복":  "국민행복카드",
	"재발굽":   "재발급",
	"제발급":   "재발급",
	"제 발급":  "재발급",
	"분실 신고": "분실신고",
	"결재":    "결제",
	"결재일":   "결제일",
	"연채":    "연체",
	"한도 상향": "한도상향",
	"후불 교통": "후불교통",
	"교통 카드": "교통카드",
}

type typoRule struct {
	from, to string
}

// typoRules is typoTable ordered longest pattern first, identity mappings
// removed. Ties sort lexically so the order is stable.
var typoRules = func() []typoRule {
	rules := make([]typoRule, 0, len(typoTable))
	for from, to := range typoTable {
		if from == to {
			continue
		}
		rules = append(rules, typoRule{from: from, to: to})
	}
	sort.Slice(rules, func(i, j int) bool {
		li, lj := len([]rune(rules[i].from)), len([]rune(rules[j].from))
		if li != lj {
			return li > lj
		}
		return rules[i].from < rules[j].from
	})
	return rules
}()

// placeholderBase is the first private-use rune used to shield protected
// spans during correction.
const (
	placeholderBase = 0xE000
	placeholderMax  = 0xF8FF
)

// correctTypos rewrites known mis-hearings in text. Every string in protected
// (longest first, non-overlapping) is replaced by a placeholder before the
// substitution runs and restored afterwards, so a protected name is never
// corrected a second time.
func correctTypos(text string, protected []string) string {
	masked, restore := protect(text, protected)
	for _, r := range typoRules {
		masked = replaceCanonical(masked, r.from, r.to)
	}
	return restore(masked)
}

// replaceCanonical replaces from with to, except where the text already reads
// to at that position. This keeps "국민행복카드" from becoming
// "국민행복카드카드".
func replaceCanonical(s, from, to string) string {
	if !strings.Contains(s, from) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], to):
			b.WriteString(to)
			i += len(to)
		case strings.HasPrefix(s[i:], from):
			b.WriteString(to)
			i += len(from)
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

// protect substitutes protected spans with single placeholder runes. The
// returned function reverses the substitution.
func protect(text string, protected []string) (string, func(string) string) {
	if len(protected) == 0 {
		return text, func(s string) string { return s }
	}
	sorted := make([]string, 0, len(protected))
	for _, p := range protected {
		if len([]rune(p)) >= 2 {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len([]rune(sorted[i])) > len([]rune(sorted[j]))
	})

	var restored []string
	next := rune(placeholderBase)
	for _, p := range sorted {
		if next > placeholderMax {
			break
		}
		if !strings.Contains(text, p) {
			continue
		}
		ph := string(next)
		text = strings.ReplaceAll(text, p, ph)
		restored = append(restored, ph, p)
		next++
	}
	if len(restored) == 0 {
		return text, func(s string) string { return s }
	}
	r := strings.NewReplacer(restored...)
	return text, r.Replace
}
