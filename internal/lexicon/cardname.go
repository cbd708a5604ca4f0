package lexicon

import (
	"regexp"
	"strings"
)

// issuers are card-company names that carry no product identity.
var issuers = map[string]struct{}{
	"신한": {}, "현대": {}, "국민": {}, "kb": {}, "kb국민": {}, "삼성": {}, "우리": {},
	"하나": {}, "롯데": {}, "비씨": {}, "bc": {}, "nh": {}, "농협": {}, "nh농협": {},
	"ibk": {}, "기업": {}, "씨티": {}, "citi": {},
}

// genericSuffixes are stripped from the end of each name token, longest first.
var genericSuffixes = []string{"신용카드", "체크카드", "카드", "체크", "신용", "card", "check"}

// DeviceNames are product-like words that never name a card.
var DeviceNames = []string{"아이폰", "갤럭시", "워치", "휴대폰", "핸드폰", "스마트폰", "iphone", "galaxy"}

var (
	parenRe   = regexp.MustCompile(`[\(\[].*?[\)\]]`)
	compactRe = regexp.MustCompile(`[\s\-·_]+`)
)

// Compact lowercases s and removes whitespace, hyphens, underscores and the
// middle dot.
func Compact(s string) string {
	return compactRe.ReplaceAllString(strings.ToLower(s), "")
}

// CardCore returns the identifying part of a product name with issuer and
// generic tokens removed, in compact form. "K-패스 신한카드(체크)" -> "k패스".
func CardCore(name string) string {
	name = parenRe.ReplaceAllString(strings.ToLower(name), " ")
	var b strings.Builder
	for _, tok := range strings.Fields(name) {
		rest := tok
		for _, suf := range genericSuffixes {
			if strings.HasSuffix(rest, suf) && len(rest) > len(suf) {
				rest = strings.TrimSuffix(rest, suf)
				break
			}
			if rest == suf {
				rest = ""
				break
			}
		}
		if _, ok := issuers[Compact(rest)]; ok {
			continue
		}
		b.WriteString(rest)
	}
	return Compact(b.String())
}

// IsDevice reports whether s names a phone or wearable rather than a card.
func IsDevice(s string) bool {
	c := Compact(s)
	for _, d := range DeviceNames {
		if c == d || strings.HasPrefix(c, d) {
			return true
		}
	}
	return false
}
