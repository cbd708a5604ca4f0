package guide_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose/guide"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/llm"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/llm/mock"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

var lossDoc = types.Document{
	Table:   types.TableGuide,
	ID:      "guide_loss_theft_merged",
	Title:   "분실 도난 신고",
	Content: "카드를 분실하면 즉시 분실신고를 접수합니다. 신고 후 재발급은 영업일 기준 5일 소요됩니다. 고객센터(1544-7000)로 문의하세요.",
}

func lossInput(docs ...types.Document) guide.Input {
	return guide.Input{
		Query:    "카드 잃어버렸어요",
		Decision: router.Decision{Route: router.RouteCardUsage, ShouldSearch: true},
		Docs:     docs,
	}
}

const wantLoss = "카드를 잃어버리셔서 많이 놀라셨겠어요. 카드를 분실하면 즉시 분실신고를 접수합니다. 분실하신 카드가 어떤 카드인지 말씀해 주시겠어요?"

func checkScript(t *testing.T, script string, docs []types.Document) {
	t.Helper()
	if script == "" {
		t.Fatal("empty script")
	}
	if n := len(compose.Sentences(script)); n > 3 {
		t.Errorf("script has %d sentences: %q", n, script)
	}
	if compose.PhoneRe.MatchString(script) || compose.URLRe.MatchString(script) {
		t.Errorf("contact detail left in %q", script)
	}
	if strings.ContainsAny(script, "[]") || strings.Contains(script, "상담사") {
		t.Errorf("bracket or speaker tag left in %q", script)
	}
	if !strings.HasSuffix(script, "?") {
		t.Errorf("script must end with a question: %q", script)
	}
	if !guide.Grounded(script, docs) {
		t.Errorf("script not grounded: %q", script)
	}
}

func TestCompose_NormalizesLLMDraft(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Reply: "상담사: 많이 놀라셨죠. 카드를 분실하면 즉시 분실신고를 접수합니다 [문서 #1]. 1544-7000으로 연락 주세요. 본인 확인해 주시겠어요?"}
	in := lossInput(lossDoc)
	got := guide.New(p).Compose(context.Background(), in)

	if p.Calls() != 1 {
		t.Fatalf("llm calls = %d, want 1", p.Calls())
	}
	checkScript(t, got, in.Docs)
	if got != wantLoss {
		t.Errorf("script = %q\nwant     %q", got, wantLoss)
	}
	if strings.Contains(got, "본인 확인") {
		t.Errorf("generic identity question kept: %q", got)
	}
}

func TestCompose_SalvagesOnLLMFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *mock.Provider
	}{
		{name: "error", p: &mock.Provider{Err: errors.New("timeout")}},
		{name: "empty reply", p: &mock.Provider{Reply: "  "}},
		{name: "panic", p: &mock.Provider{Panic: "boom"}},
		{name: "cut at token limit", p: &mock.Provider{Reply: "상담사: 카드를 분실하면 즉시", FinishReason: llm.FinishLength}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := lossInput(lossDoc)
			got := guide.New(tt.p).Compose(context.Background(), in)
			checkScript(t, got, in.Docs)
			if got != wantLoss {
				t.Errorf("script = %q, want %q", got, wantLoss)
			}
		})
	}
}

func TestCompose_NoDocsUsesCanonicalFallback(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Reply: "무엇이든 도와드리겠습니다."}
	got := guide.New(p).Compose(context.Background(), lossInput())
	if got != guide.Fallback(guide.IntentLoss) {
		t.Errorf("script = %q", got)
	}
	if p.Calls() != 0 {
		t.Errorf("llm called without documents")
	}
}

func TestCompose_PhoneLookup(t *testing.T) {
	t.Parallel()

	in := guide.Input{
		Query: "신한카드 고객센터 전화번호 알려주세요",
		Decision: router.Decision{
			Route:        router.RouteCardUsage,
			ShouldSearch: true,
			Filters:      router.Filters{PhoneLookup: true},
		},
		Docs: []types.Document{{
			Table:   types.TableGuide,
			ID:      "guide_contact",
			Title:   "고객센터 안내",
			Content: "신한카드 고객센터 대표번호는 1544-7000입니다. 분실 신고는 24시간 접수 가능합니다.",
		}},
	}
	got := guide.New(nil).Compose(context.Background(), in)
	checkScript(t, got, in.Docs)
	if !strings.Contains(got, "확인") && !strings.Contains(got, "안내 문서") {
		t.Errorf("phone lookup script must point to the document: %q", got)
	}
	if !strings.Contains(got, "24시간") {
		t.Errorf("expected the phone-free sentence as detail: %q", got)
	}
}

func TestCompose_ApplePayKeepsAllowedQuestion(t *testing.T) {
	t.Parallel()

	in := guide.Input{
		Query:    "애플페이 등록이 안돼요",
		Decision: router.Decision{Route: router.RouteCardUsage, ShouldSearch: true, ApplePayIntent: "register"},
		Docs: []types.Document{{
			Table:   types.TableGuide,
			ID:      "hyundai_applepay_register",
			Title:   "애플페이 카드 등록",
			Content: "애플페이는 iOS 16.4 이상 기기에서 등록할 수 있습니다. 지갑 앱에서 카드 추가를 선택합니다.",
		}},
	}
	p := &mock.Provider{Reply: "등록이 안 되어 답답하셨죠. iOS 버전을 먼저 확인해 보세요. 화면에 표시되는 오류 문구가 있으신가요?"}
	got := guide.New(p).Compose(context.Background(), in)
	checkScript(t, got, in.Docs)
	if !strings.Contains(got, "애플페이") || strings.Contains(got, "K-패스") {
		t.Errorf("script = %q", got)
	}
	if !strings.HasSuffix(got, "화면에 표시되는 오류 문구가 있으신가요?") {
		t.Errorf("allowed model question not kept: %q", got)
	}
	if !strings.Contains(got, "16.4") {
		t.Errorf("detail sentence should carry the version: %q", got)
	}
}

func TestCompose_PrefersQueryTermSentence(t *testing.T) {
	t.Parallel()

	in := guide.Input{
		Query:    "K-패스 다자녀 혜택",
		Decision: router.Decision{Route: router.RouteCardInfo, ShouldSearch: true},
		Docs: []types.Document{{
			Table:   types.TableProducts,
			ID:      "CARD-SHINHAN-K-패스-신한카드",
			Title:   "K-패스 신한카드",
			Content: "대중교통 이용 금액의 일부를 환급합니다.\n다자녀 가구는 최대 53% 환급률이 적용됩니다.",
		}},
	}
	got := guide.New(nil).Compose(context.Background(), in)
	checkScript(t, got, in.Docs)
	if !strings.Contains(got, "다자녀") {
		t.Errorf("script = %q", got)
	}
}

func TestGrounded(t *testing.T) {
	t.Parallel()

	docs := []types.Document{lossDoc}
	tests := []struct {
		name   string
		script string
		want   bool
	}{
		{name: "document sentence", script: "카드를 분실하면   즉시 분실신고를 접수합니다.", want: true},
		{name: "template around document", script: wantLoss, want: true},
		{name: "invented claim", script: "연회비가 평생 면제됩니다.", want: false},
		{name: "canonical fallback", script: guide.Fallback(guide.IntentGeneral), want: true},
	}
	for _, tt := range tests {
		if got := guide.Grounded(tt.script, docs); got != tt.want {
			t.Errorf("%s: Grounded(%q) = %v, want %v", tt.name, tt.script, got, tt.want)
		}
	}
}

func TestIntentOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		dec   router.Decision
		want  guide.Intent
	}{
		{"카드 도난당했어요", router.Decision{}, guide.IntentLoss},
		{"애플페이 분실", router.Decision{ApplePayIntent: "loss"}, guide.IntentApplePay},
		{"전화번호 알려줘", router.Decision{Filters: router.Filters{PhoneLookup: true}}, guide.IntentPhone},
		{"연회비 얼마예요", router.Decision{}, guide.IntentGeneral},
	}
	for _, tt := range tests {
		if got := guide.IntentOf(tt.query, tt.dec); got != tt.want {
			t.Errorf("IntentOf(%q) = %s, want %s", tt.query, got, tt.want)
		}
	}
}
