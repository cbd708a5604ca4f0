package guide

import (
	"slices"
	"strings"

	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/compose"
	"github.com/SKNETWORKS-FAMILY-AICAMP/SKN19-FINAL-1Team-sub000/internal/router"
)

// Intent selects the opener, the question set and the canonical fallback.
type Intent string

const (
	IntentLoss     Intent = "loss"
	IntentApplePay Intent = "applepay"
	IntentPhone    Intent = "phone_lookup"
	IntentGeneral  Intent = "general"
)

var lossTokens = []string{"분실", "도난", "잃어", "도둑", "훔쳐", "없어졌", "소매치기"}

// IntentOf classifies a decision for script templating.
func IntentOf(query string, dec router.Decision) Intent {
	text := strings.ToLower(query + " " + dec.MatchedSignals.NormalizedText)
	switch {
	case dec.Filters.PhoneLookup:
		return IntentPhone
	case dec.ApplePayIntent != "":
		return IntentApplePay
	case compose.ContainsAny(text, lossTokens...):
		return IntentLoss
	}
	return IntentGeneral
}

type template struct {
	opener    string
	questions []string
	fallback  string
}

var templates = map[Intent]template{
	IntentLoss: {
		opener: "카드를 잃어버리셔서 많이 놀라셨겠어요.",
		questions: []string{
			"분실하신 카드가 어떤 카드인지 말씀해 주시겠어요?",
			"마지막으로 카드를 사용하신 때가 언제인지 기억나시나요?",
		},
		fallback: "카드를 잃어버리셔서 많이 놀라셨겠어요. 분실신고를 먼저 접수한 뒤 재발급 절차를 안내할 수 있습니다. 분실하신 카드가 어떤 카드인지 말씀해 주시겠어요?",
	},
	IntentApplePay: {
		opener: "애플페이 이용에 불편을 겪고 계시는군요.",
		questions: []string{
			"등록하시려는 카드와 기기 종류를 알려주시겠어요?",
			"화면에 표시되는 오류 문구가 있으신가요?",
		},
		fallback: "애플페이 이용에 불편을 겪고 계시는군요. 애플페이 등록 가능 여부를 먼저 확인할 수 있습니다. 등록하시려는 카드와 기기 종류를 알려주시겠어요?",
	},
	IntentPhone: {
		opener: "연락처 안내를 원하시는군요.",
		questions: []string{
			"안내 문서에서 확인되는 대표번호로 안내해 드려도 될까요?",
			"어느 업무 담당 연락처가 필요하신지 확인해 주시겠어요?",
		},
		fallback: "연락처 안내를 원하시는군요. 안내 문서에서 확인되는 번호만 안내할 수 있습니다. 어느 업무 담당 연락처가 필요하신지 확인해 주시겠어요?",
	},
	IntentGeneral: {
		opener: "문의하신 내용 확인했습니다.",
		questions: []string{
			"어떤 부분이 가장 궁금하신지 조금 더 말씀해 주시겠어요?",
			"사용 중이신 카드 이름을 알려주시겠어요?",
		},
		fallback: "문의하신 내용 확인했습니다. 관련 안내 문서를 찾지 못해 추가 확인이 필요합니다. 어떤 부분이 가장 궁금하신지 조금 더 말씀해 주시겠어요?",
	},
}

// Fallback returns the canonical script of intent, used when no document
// was retrieved.
func Fallback(intent Intent) string {
	return templates[intent].fallback
}

// Fallbacks returns the four canonical scripts.
func Fallbacks() []string {
	return []string{
		templates[IntentLoss].fallback,
		templates[IntentApplePay].fallback,
		templates[IntentPhone].fallback,
		templates[IntentGeneral].fallback,
	}
}

// isTemplateSentence reports whether s is one of the fixed openers or
// allowed questions.
func isTemplateSentence(s string) bool {
	s = compose.CollapseSpace(s)
	for _, t := range templates {
		if s == t.opener || slices.Contains(t.questions, s) {
			return true
		}
	}
	return false
}

// bannedQuestions are generic questions the final sentence must not be.
var bannedQuestions = []string{"본인 확인", "도와드릴까요", "더 궁금하신", "다른 문의", "무엇을 도와"}

// pickQuestion returns the first candidate that is an allowed question of
// intent, or the canonical one.
func pickQuestion(intent Intent, candidates []string) string {
	allowed := templates[intent].questions
	for _, c := range candidates {
		c = compose.CollapseSpace(c)
		if compose.ContainsAny(c, bannedQuestions...) {
			continue
		}
		if slices.Contains(allowed, c) {
			return c
		}
	}
	return allowed[0]
}
