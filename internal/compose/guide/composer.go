// Package guide writes the short script an agent reads aloud: one empathetic
// opener, one document-backed step and one follow-up question.
package guide

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/provider/llm"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

const (
	maxDocs          = 2
	maxConsultCases  = 1
	docContentRunes  = 600
	caseContentRunes = 300
	defaultTemp      = 0.3
	defaultMaxTokens = 220
)

const systemPrompt = `당신은 카드사 상담원이 고객에게 그대로 읽어 줄 안내 멘트를 씁니다.

규칙:
- 최대 3문장, 존댓말.
- 1문장: 고객 상황에 공감. 2문장: 문서에 있는 구체적인 처리 방법 하나(숫자나 조건 포함).
- 3문장: 아래 질문 중 하나를 그대로 사용.
%s
- 전화번호, URL, 괄호, 대괄호, 문서 번호, 출처, "상담사:" 같은 화자 표시는 쓰지 마세요.
- 문서에 없는 내용은 쓰지 말고 "처리해 드리겠습니다" 같은 확약은 하지 마세요.

멘트만 출력하세요.`

// Input is everything one script needs. Docs beyond the first two and
// consult cases beyond the first are ignored.
type Input struct {
	Query    string
	Decision router.Decision
	Docs     []types.Document
	Consult  []types.Document
}

// Composer writes guide scripts. It is safe for concurrent use.
type Composer struct {
	llm llm.Provider
}

// New returns a Composer. provider may be nil, in which case every script is
// salvaged from the first document.
func New(provider llm.Provider) *Composer {
	return &Composer{llm: provider}
}

// Compose returns the script for in. It never fails and never returns an
// empty script; without documents it returns the canonical fallback of the
// query's intent.
func (c *Composer) Compose(ctx context.Context, in Input) (script string) {
	if len(in.Docs) == 0 {
		return Fallback(IntentOf(in.Query, in.Decision))
	}
	defer func() {
		if p := recover(); p != nil {
			slog.Error("guide composer panicked, using canonical script", "panic", p)
			script = Fallback(IntentOf(in.Query, in.Decision))
		}
	}()

	if c.llm == nil {
		return Salvage(in)
	}
	raw, err := c.draft(ctx, in)
	if err != nil {
		slog.Warn("guide composer: llm draft failed, salvaging", "err", err)
		return Salvage(in)
	}
	script = Normalize(raw, in)
	if !Grounded(script, in.Docs) {
		slog.Warn("guide composer: normalised script not grounded, salvaging")
		return Salvage(in)
	}
	return script
}

func (c *Composer) draft(ctx context.Context, in Input) (raw string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("guide: llm panicked: %v", p)
		}
	}()
	system, user := buildPrompt(in)
	req := llm.UserPrompt(system, user)
	req.Temperature = defaultTemp
	req.MaxTokens = defaultMaxTokens

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	raw = resp.Content
	if resp.Truncated() {
		raw = compose.DropFragment(raw)
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("guide: empty llm reply")
	}
	return raw, nil
}

func buildPrompt(in Input) (system, user string) {
	var q strings.Builder
	for _, s := range templates[IntentOf(in.Query, in.Decision)].questions {
		fmt.Fprintf(&q, "  * %s\n", s)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "고객 발화: %s\n", strings.TrimSpace(in.Query))
	for i, d := range limitDocs(in.Docs) {
		fmt.Fprintf(&sb, "\n안내 문서 %d: %s\n%s\n", i+1, strings.TrimSpace(d.Title),
			compose.Truncate(compose.CollapseSpace(d.Content), docContentRunes))
	}
	if len(in.Consult) > 0 {
		cs := in.Consult[:min(maxConsultCases, len(in.Consult))]
		for _, d := range cs {
			fmt.Fprintf(&sb, "\n유사 상담 사례: %s\n", compose.Truncate(compose.CollapseSpace(d.Content), caseContentRunes))
		}
	}
	return fmt.Sprintf(systemPrompt, strings.TrimRight(q.String(), "\n")), sb.String()
}

func limitDocs(docs []types.Document) []types.Document {
	return docs[:min(maxDocs, len(docs))]
}
