package card

import (
	"regexp"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// disclaimerRe matches boilerplate clauses that carry no guidance.
var disclaimerRe = regexp.MustCompile(
	`(?:※[^.\n]*[.\n]?)` +
		`|(?:자세한\s*(?:내용|사항)은[^.]*(?:참고|확인|문의)[^.]*\.?)` +
		`|(?:(?:고객센터|상담센터|콜센터)(?:로|에)?\s*문의[^.]*\.?)` +
		`|(?:[^.]*(?:변경될\s*수\s*있습니다|사전\s*예고\s*없이)[^.]*\.?)`,
)

// injectTerms are query tokens a card-info answer must not silently drop.
var injectTerms = []string{"전월", "실적", "통신사"}

// clean applies the authoritative post-processing to one card. The model
// output is never trusted to satisfy these rules.
func clean(c Card) Card {
	c.Title = compose.CollapseSpace(c.Title)
	c.Content = cleanText(c.Content)
	c.FullText = cleanFull(c.FullText)
	c.Note = scrub(c.Note)
	c.Time = scrub(c.Time)
	c.SystemPath = compose.CollapseSpace(c.SystemPath)
	c.Regulation = scrub(c.Regulation)
	c.RequiredChecks = scrubList(c.RequiredChecks)
	c.Exceptions = scrubList(c.Exceptions)
	if c.Keywords == nil {
		c.Keywords = []string{}
	}
	return c
}

func scrub(s string) string {
	s = disclaimerRe.ReplaceAllString(s, " ")
	return compose.StripContacts(s)
}

func scrubList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = scrub(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// cleanText scrubs a nullable summary; empty becomes null.
func cleanText(p *string) *string {
	if p == nil {
		return nil
	}
	s := scrub(*p)
	if s == "" {
		return nil
	}
	return &s
}

// cleanFull only strips contact details from the full text; disclaimers in
// the source document stay visible there.
func cleanFull(p *string) *string {
	if p == nil {
		return nil
	}
	s := compose.StripContacts(*p)
	if s == "" {
		return nil
	}
	return &s
}

// injectMissingTerms appends, for each inject term in the query that no card
// mentions, the first sentence of a source document that does mention it to
// that document's card.
func injectMissingTerms(query string, cards []Card, docs []types.Document) []Card {
	q := strings.ToLower(query)
	for _, term := range injectTerms {
		if !strings.Contains(q, term) {
			continue
		}
		covered := false
		for _, c := range cards {
			if strings.Contains(c.text(), term) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
	cards:
		for i := range cards {
			for _, d := range docs {
				if d.ID != cards[i].ID {
					continue
				}
				for _, s := range compose.Sentences(d.Content) {
					if !strings.Contains(s, term) {
						continue
					}
					s = scrub(s)
					if s == "" {
						continue
					}
					joined := strings.TrimSpace(cards[i].ContentText() + " " + s)
					cards[i].Content = &joined
					break cards
				}
			}
		}
	}
	return cards
}
