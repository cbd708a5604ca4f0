package card

import (
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose"
)

// Slot sizes and the response cap.
const (
	slotSize = 2
	maxCards = 2 * slotSize
)

var (
	issueTokens   = []string{"발급", "신청", "재발급", "대상", "서류"}
	benefitTokens = []string{"혜택", "할인", "적립", "캐시백", "환급", "연회비", "포인트"}
)

// split partitions the ordered cards into the current-situation and
// next-step slots. When the query leans towards issuance, benefit cards are
// blocked, and the other way round; blocked cards only backfill a short slot.
// Cards with a duplicate id are dropped.
func split(query string, cards []Card) (current, next []Card) {
	q := strings.ToLower(query)
	issue, benefit := compose.CountAny(q, issueTokens...), compose.CountAny(q, benefitTokens...)

	var favored, disfavored []string
	switch {
	case issue > benefit:
		favored, disfavored = issueTokens, benefitTokens
	case benefit > issue:
		favored, disfavored = benefitTokens, issueTokens
	}

	var allowed, blocked []Card
	seen := map[string]struct{}{}
	for _, c := range cards {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		if disfavored != nil && compose.ContainsAny(c.text(), disfavored...) &&
			!compose.ContainsAny(c.text(), favored...) {
			blocked = append(blocked, c)
			continue
		}
		allowed = append(allowed, c)
	}

	ordered := append(allowed, blocked...)
	if len(ordered) > maxCards {
		ordered = ordered[:maxCards]
	}
	current = make([]Card, 0, slotSize)
	next = make([]Card, 0, slotSize)
	for i, c := range ordered {
		if i < slotSize {
			current = append(current, c)
		} else {
			next = append(next, c)
		}
	}
	return current, next
}
