// Package compose holds the text helpers shared by the card and guide
// composers: sentence splitting, contact-detail scrubbing and LLM reply
// unwrapping.
package compose

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// PhoneRe matches Korean phone and customer-center numbers.
	PhoneRe = regexp.MustCompile(`\(?\d{2,4}\)?[-\s]?\d{3,4}[-\s]?\d{4}|1[5-9]\d{2}-\d{4}`)

	// URLRe matches web addresses.
	URLRe = regexp.MustCompile(`(?i)(https?://|www\.)\S+|\b[a-z0-9-]+\.(com|co\.kr|kr|net|org)(/\S*)?\b`)

	// EmailRe matches e-mail addresses.
	EmailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)

	sentenceEndRe = regexp.MustCompile(`[.!?？！。]\s+`)
	spaceRe       = regexp.MustCompile(`\s+`)
	emptyParenRe  = regexp.MustCompile(`\(\s*[,/]?\s*\)`)
)

// Sentences splits text into trimmed, non-empty sentences. A sentence ends at
// terminal punctuation followed by whitespace, or at a line break.
func Sentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		last := 0
		for _, m := range sentenceEndRe.FindAllStringIndex(line, -1) {
			if s := strings.TrimSpace(line[last:m[1]]); s != "" {
				out = append(out, s)
			}
			last = m[1]
		}
		if s := strings.TrimSpace(line[last:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FirstSentences joins the first n sentences of text.
func FirstSentences(text string, n int) string {
	s := Sentences(text)
	if len(s) > n {
		s = s[:n]
	}
	return strings.Join(s, " ")
}

// DropFragment removes a trailing sentence that never reached its terminal
// punctuation, as left by a reply cut at the token limit.
func DropFragment(text string) string {
	s := Sentences(text)
	if n := len(s); n > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[n-1]); !strings.ContainsRune(".!?？！。", r) {
			s = s[:n-1]
		}
	}
	return strings.Join(s, " ")
}

// StripContacts removes phone numbers, URLs and e-mail addresses and tidies
// the whitespace and empty brackets they leave behind.
func StripContacts(s string) string {
	s = EmailRe.ReplaceAllString(s, "")
	s = URLRe.ReplaceAllString(s, "")
	s = PhoneRe.ReplaceAllString(s, "")
	s = emptyParenRe.ReplaceAllString(s, "")
	return CollapseSpace(s)
}

// CollapseSpace trims s and collapses runs of whitespace into one space.
func CollapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Truncate cuts s to at most n runes, appending "…" when it was cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}

// StripFences removes optional markdown code fences around an LLM reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// ContainsAny reports whether s contains any of subs.
func ContainsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CountAny returns how many of subs occur in s.
func CountAny(s string, subs ...string) int {
	n := 0
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			n++
		}
	}
	return n
}
