package card

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/pkg/types"
)

// PromptVersion is part of the card cache key. Bump it whenever the prompt
// or the parser changes shape.
const PromptVersion = "card-v3"

// promptContentRunes caps each document body in the prompt.
const promptContentRunes = 450

const systemPrompt = `당신은 카드사 상담원을 돕는 안내 카드 작성기입니다.
상담원이 통화 중 바로 읽을 수 있도록 각 문서를 짧게 요약합니다.

규칙:
- 문서에 있는 내용만 사용하고 추측하지 마세요.
- content는 1~2문장, 존댓말로 핵심 처리 방법만 적으세요.
- 전화번호, URL, 이메일, "자세한 내용은 ~ 참고" 같은 문구는 쓰지 마세요.
- requiredChecks는 상담원이 고객에게 확인할 항목, exceptions는 예외 조건입니다. 없으면 빈 배열.
- 문서 순서대로 최대 %d개만 작성하세요.

다른 설명 없이 JSON 배열만 출력하세요:
[{"id": "<문서 id>", "content": "<요약>", "requiredChecks": [], "exceptions": [], "note": ""}]`

// llmCard is one entry of the model reply.
type llmCard struct {
	ID             string   `json:"id"`
	Content        string   `json:"content"`
	RequiredChecks []string `json:"requiredChecks"`
	Exceptions     []string `json:"exceptions"`
	Note           string   `json:"note"`
	Time           string   `json:"time"`
	SystemPath     string   `json:"systemPath"`
	Regulation     string   `json:"regulation"`
}

func buildPrompt(query string, docs []types.Document) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "상담 질의: %s\n", strings.TrimSpace(query))
	for i, d := range docs {
		fmt.Fprintf(&sb, "\n[문서 %d]\nid: %s\n제목: %s\n내용: %s\n",
			i+1, d.ID, strings.TrimSpace(d.Title), compose.Truncate(compose.CollapseSpace(d.Content), promptContentRunes))
	}
	return fmt.Sprintf(systemPrompt, len(docs)), sb.String()
}

var errEmptyReply = errors.New("card: empty llm reply")

// parseReply accepts a JSON array of cards or an object {"cards": [...]}.
func parseReply(content string) ([]llmCard, error) {
	s := compose.StripFences(content)
	if s == "" {
		return nil, errEmptyReply
	}
	// Some models wrap the JSON in prose; keep the outermost JSON value.
	if i := strings.IndexAny(s, "[{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndexAny(s, "]}"); j >= 0 && j < len(s)-1 {
		s = s[:j+1]
	}

	var list []llmCard
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Cards []llmCard `json:"cards"`
	}
	if err := json.Unmarshal([]byte(s), &wrapped); err != nil {
		return nil, fmt.Errorf("card: parse reply: %w", err)
	}
	if wrapped.Cards == nil {
		return nil, fmt.Errorf("card: parse reply: no cards field")
	}
	return wrapped.Cards, nil
}

// mergeLLM overlays the model summaries onto the base cards. Entries match
// by id, falling back to position. Identity fields and structured fields
// already present on the base card are kept.
func mergeLLM(base []Card, parsed []llmCard) []Card {
	out := make([]Card, len(base))
	copy(out, base)
	used := make([]bool, len(parsed))

	for i := range out {
		j := -1
		for k, p := range parsed {
			if !used[k] && p.ID != "" && p.ID == out[i].ID {
				j = k
				break
			}
		}
		if j < 0 && i < len(parsed) && !used[i] && (parsed[i].ID == "" || !hasID(base, parsed[i].ID)) {
			j = i
		}
		if j < 0 {
			continue
		}
		used[j] = true
		p := parsed[j]

		c := &out[i]
		if s := strings.TrimSpace(p.Content); s != "" {
			c.Content = strPtr(s)
		}
		if len(c.RequiredChecks) == 0 && len(p.RequiredChecks) > 0 {
			c.RequiredChecks = nonEmpty(p.RequiredChecks)
		}
		if len(c.Exceptions) == 0 && len(p.Exceptions) > 0 {
			c.Exceptions = nonEmpty(p.Exceptions)
		}
		c.Note = fill(c.Note, p.Note)
		c.Time = fill(c.Time, p.Time)
		c.SystemPath = fill(c.SystemPath, p.SystemPath)
		c.Regulation = fill(c.Regulation, p.Regulation)
	}
	return out
}

func hasID(cards []Card, id string) bool {
	for _, c := range cards {
		if c.ID == id {
			return true
		}
	}
	return false
}

func fill(cur, v string) string {
	if cur != "" {
		return cur
	}
	return strings.TrimSpace(v)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
