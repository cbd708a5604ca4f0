package card_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/cache"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose/card"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/keyword"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/llm/mock"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

func lossDocs() []types.Document {
	return []types.Document{
		{
			Table:   types.TableGuide,
			ID:      "guide_loss_theft_merged",
			Title:   "분실 도난 신고",
			Content: "카드를 분실하면 즉시 분실신고를 접수합니다. 신고 후 재발급을 신청할 수 있습니다. 고객센터(1544-7000)로 문의하세요.",
			Score:   0.8,
			Pinned:  true,
			PinRank: 1,
			Structured: map[string]any{
				"systemPath":     "카드관리 > 분실신고",
				"requiredChecks": []any{"본인 확인", "최근 사용 내역"},
			},
		},
		{
			Table:   types.TableGuide,
			ID:      "guide_reissue",
			Title:   "재발급 안내",
			Content: "재발급은 영업일 기준 5일 소요됩니다. 배송지를 확인합니다.",
			Score:   0.6,
		},
		{Table: types.TableGuide, ID: "guide_overseas_block", Title: "해외결제 차단", Content: "해외결제를 차단할 수 있습니다.", Score: 0.4},
	}
}

func usageInput(docs []types.Document) card.Input {
	return card.Input{
		Query:    "카드 잃어버렸어요",
		Decision: router.Decision{Route: router.RouteCardUsage, ShouldSearch: true},
		Docs:     docs,
		Keywords: []string{"분실"},
	}
}

func TestCompose_LLMSummaryMergedIntoBaseCard(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		Model: "test-model",
		Reply: "```json\n[{\"id\":\"guide_loss_theft_merged\",\"content\":\"즉시 분실신고 후 재발급을 안내합니다. 1588-1688\",\"requiredChecks\":[\"무시됨\"],\"note\":\"24시간 접수\"}]\n```",
	}
	res := card.New(p).Compose(context.Background(), usageInput(lossDocs()))

	if p.Calls() != 1 {
		t.Fatalf("llm calls = %d, want 1", p.Calls())
	}
	prompt := p.CompleteCalls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "guide_loss_theft_merged") || strings.Contains(prompt, "guide_reissue") {
		t.Errorf("card_usage prompt should carry only the first doc:\n%s", prompt)
	}

	cards := res.Cards()
	if len(cards) != 3 || len(res.Current) != 2 || len(res.Next) != 1 {
		t.Fatalf("current=%d next=%d", len(res.Current), len(res.Next))
	}
	first := cards[0]
	if first.ID != "guide_loss_theft_merged" || first.Title != "분실 도난 신고" {
		t.Errorf("identity fields not preserved: %+v", first)
	}
	if got := first.ContentText(); got != "즉시 분실신고 후 재발급을 안내합니다." {
		t.Errorf("content = %q", got)
	}
	if first.SystemPath != "카드관리 > 분실신고" || len(first.RequiredChecks) != 2 || first.RequiredChecks[0] != "본인 확인" {
		t.Errorf("structured fields overwritten: %+v", first)
	}
	if first.Note != "24시간 접수" {
		t.Errorf("note = %q", first.Note)
	}
	for _, c := range cards {
		if len(c.Keywords) != 1 || c.Keywords[0] != "분실" {
			t.Errorf("card %s keywords = %v", c.ID, c.Keywords)
		}
		if c.FullText != nil && strings.Contains(*c.FullText, "1544-7000") {
			t.Errorf("phone left in fullText of %s", c.ID)
		}
	}
}

func TestCompose_FallsBackOnLLMFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *mock.Provider
	}{
		{name: "error", p: &mock.Provider{Err: errors.New("503")}},
		{name: "bad json", p: &mock.Provider{Reply: "요약을 드릴 수 없습니다"}},
		{name: "panic", p: &mock.Provider{Panic: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := card.New(tt.p).Compose(context.Background(), usageInput(lossDocs()))
			cards := res.Cards()
			if len(cards) != 3 {
				t.Fatalf("got %d cards, want 3", len(cards))
			}
			want := "카드를 분실하면 즉시 분실신고를 접수합니다. 신고 후 재발급을 신청할 수 있습니다."
			if got := cards[0].ContentText(); got != want {
				t.Errorf("rule summary = %q, want %q", got, want)
			}
		})
	}
}

func TestCompose_WrappedCardsObject(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Reply: `요약입니다: {"cards":[{"content":"첫 번째 요약입니다."},{"content":"두 번째 요약입니다."}]}`}
	in := card.Input{
		Query:    "K-패스 혜택",
		Decision: router.Decision{Route: router.RouteCardInfo},
		Docs: []types.Document{
			{Table: types.TableProducts, ID: "CARD-A", Title: "K-패스 신한카드", Content: "대중교통 할인 혜택을 제공합니다."},
			{Table: types.TableProducts, ID: "CARD-B", Title: "K-패스 신한카드(체크)", Content: "체크카드 혜택입니다."},
		},
	}
	cards := card.New(p).Compose(context.Background(), in).Cards()
	if len(cards) != 2 || cards[0].ContentText() != "첫 번째 요약입니다." || cards[1].ContentText() != "두 번째 요약입니다." {
		t.Errorf("cards = %+v", cards)
	}
}

func TestCompose_AtMostFourDistinctCards(t *testing.T) {
	t.Parallel()

	var docs []types.Document
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		docs = append(docs, types.Document{Table: types.TableGuide, ID: "guide_" + id, Title: id, Content: id + " 안내입니다."})
	}
	res := card.New(nil).Compose(context.Background(), usageInput(docs))
	cards := res.Cards()
	if len(cards) != 4 || len(res.Current) != 2 || len(res.Next) != 2 {
		t.Fatalf("current=%d next=%d", len(res.Current), len(res.Next))
	}
	seen := map[string]bool{}
	for _, c := range cards {
		if seen[c.ID] {
			t.Errorf("duplicate card %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestCompose_NoDocs(t *testing.T) {
	t.Parallel()

	res := card.New(&mock.Provider{}).Compose(context.Background(), usageInput(nil))
	if res.Current == nil || res.Next == nil || len(res.Cards()) != 0 {
		t.Errorf("empty result must carry empty, non-nil slices: %+v", res)
	}
}

func TestCompose_CacheHit(t *testing.T) {
	t.Parallel()

	cc := cache.NewCardCache[card.Entry](cache.NewLayered("card", time.Minute, 100))
	p := &mock.Provider{Model: "m", Reply: `[{"content":"캐시된 요약입니다."}]`}
	c := card.New(p, card.WithCache(cc))
	in := usageInput(lossDocs())

	first := c.Compose(context.Background(), in)
	c.Remember(context.Background(), in, first, "분실신고를 도와드릴게요.")

	second := c.Compose(context.Background(), in)
	if p.Calls() != 1 {
		t.Errorf("llm calls = %d, want 1", p.Calls())
	}
	if !second.Cached || second.GuidanceScript != "분실신고를 도와드릴게요." {
		t.Errorf("cache hit not reported: %+v", second)
	}
	a, b := first.Cards(), second.Cards()
	if len(a) != len(b) {
		t.Fatalf("card count changed: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].ContentText() != b[i].ContentText() {
			t.Errorf("card %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	if s := cc.Stats(); s.Hits != 1 {
		t.Errorf("hits = %d, want 1", s.Hits)
	}

	// A different document set misses.
	other := in
	other.Docs = lossDocs()[1:]
	if _, ok := c.Lookup(context.Background(), other); ok {
		t.Error("different doc ids hit the cache")
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	c := card.New(&mock.Provider{Model: "m"})
	base := usageInput(lossDocs())
	base.Decision.MatchedSignals = keyword.Signals{NormalizedText: "카드 잃어버렸어요"}
	baseKey, _ := c.Key(base).String()

	misheard := base
	misheard.Query = "카드 일어버렸어요"
	reversed := base
	reversed.Docs = slices.Clone(base.Docs)
	slices.Reverse(reversed.Docs)

	tests := []struct {
		name string
		in   card.Input
		same bool
	}{
		{name: "same corrected text", in: misheard, same: true},
		{name: "documents reordered", in: reversed, same: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := c.Key(tc.in).String()
			if !ok {
				t.Fatal("key rejected")
			}
			if (got == baseKey) != tc.same {
				t.Errorf("key equal = %v, want %v", got == baseKey, tc.same)
			}
		})
	}
}

func TestTopN(t *testing.T) {
	t.Parallel()

	if card.TopN(router.RouteCardInfo) != 2 || card.TopN(router.RouteCardUsage) != 1 {
		t.Error("unexpected top-N")
	}
}
