package guide

import (
	"strings"
	"testing"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

func TestSoften(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"즉시 처리해드리겠습니다.", "즉시 처리할 수 있습니다."},
		{"오늘 중으로 환불해 드리겠습니다.", "오늘 중으로 환불할 수 있습니다."},
		{"재발급됩니다.", "재발급될 수 있습니다."},
		{"신고 후 재발급을 신청할 수 있습니다.", "신고 후 재발급을 신청할 수 있습니다."},
	}
	for _, tt := range tests {
		if got := soften(tt.in); got != tt.want {
			t.Errorf("soften(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScrub(t *testing.T) {
	t.Parallel()

	got := scrub("상담원: 재발급은 [문서 2] 5일 소요됩니다 (출처: 안내서). www.card.co.kr 참고 {고객명}")
	for _, bad := range []string{"상담원", "[", "(출처", "www", "{"} {
		if strings.Contains(got, bad) {
			t.Errorf("scrub left %q in %q", bad, got)
		}
	}
	if !strings.Contains(got, "재발급은 5일 소요됩니다") {
		t.Errorf("scrub dropped content: %q", got)
	}
}

func TestPickQuestion(t *testing.T) {
	t.Parallel()

	if got := pickQuestion(IntentGeneral, []string{"더 궁금하신 점 있으신가요?"}); got != templates[IntentGeneral].questions[0] {
		t.Errorf("banned question kept: %q", got)
	}
	q := templates[IntentLoss].questions[1]
	if got := pickQuestion(IntentLoss, []string{"  " + q}); got != q {
		t.Errorf("allowed question replaced: %q", got)
	}
}

func TestDetailSentence_SkipsContactSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		hints   []string
		want    string
	}{
		{
			name:    "phone sentence matches the hints",
			content: "신한카드 고객센터 대표번호는 1544-7000입니다. 분실 신고는 24시간 접수 가능합니다.",
			hints:   []string{"고객센터 대표번호"},
			want:    "분실 신고는 24시간 접수 가능합니다.",
		},
		{
			name:    "url sentence",
			content: "자세한 내용은 www.shinhancard.com 에서 확인하세요. 재발급은 영업일 기준 5일 소요됩니다.",
			hints:   []string{"자세한 내용"},
			want:    "재발급은 영업일 기준 5일 소요됩니다.",
		},
		{
			name:    "only a phone sentence",
			content: "신한카드 고객센터 대표번호는 1544-7000입니다.",
			hints:   []string{"대표번호"},
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			docs := []types.Document{{Table: types.TableGuide, ID: "guide_contact", Title: "안내", Content: tt.content}}
			got := detailSentence(docs, tt.hints, "")
			if got != tt.want {
				t.Errorf("detailSentence = %q, want %q", got, tt.want)
			}
			if strings.Contains(got, "는 입니다") {
				t.Errorf("scrubbed sentence picked: %q", got)
			}
		})
	}
}

func TestSalvage_PhoneOnlyDocumentFallsBack(t *testing.T) {
	t.Parallel()

	in := Input{
		Query: "고객센터 번호 알려주세요",
		Docs: []types.Document{{
			Table:   types.TableGuide,
			ID:      "guide_contact",
			Title:   "고객센터 안내",
			Content: "신한카드 고객센터 대표번호는 1544-7000입니다.",
		}},
	}
	got := Salvage(in)
	if strings.Contains(got, "대표번호는 입니다") {
		t.Errorf("script kept an emptied sentence: %q", got)
	}
	if want := Fallback(IntentOf(in.Query, in.Decision)); got != want {
		t.Errorf("Salvage = %q, want fallback %q", got, want)
	}
}
