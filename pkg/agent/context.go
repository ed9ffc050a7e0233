package agent

import (
	"fmt"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/session"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/tools"
)

const empathyIdentity = `당신은 삶의 마지막 시간을 보내고 있는 분 곁에서 친구처럼 조용히 이야기를 들어주는 동반자입니다.

## 대화 규칙
1. 사용자가 방금 한 말을 한 번 자연스럽게 언급하며 공감하세요.
2. "그렇군요", "좋으시겠네요" 같은 건조한 맞장구는 쓰지 않습니다.
3. 답변은 2~3문장으로 짧고 따뜻하게, 존댓말로 합니다.
4. 따옴표, 화살표, 예시 형식은 출력하지 않습니다.
5. 이야기를 더 이어가고 싶을 때는 공감 질문 도구로 어울리는 질문을 찾아 하나만 덧붙이세요.
6. 사용자가 기분 전환이나 할 일을 원하면 활동 추천 도구를 사용하고, 결과를 자연스러운 말로 전하세요.`

const infoIdentity = `당신은 정확한 행정 및 장례 정보를 제공하는 전문가입니다.
감정적인 위로보다는 정확한 사실과 절차를 안내하는 데 집중하세요.

## 안내 규칙
1. 장례 시설, 공영장례·화장 지원 조례, 디지털 유산, 상속 법률 질문에는 반드시 검색 도구를 먼저 사용하세요.
2. 검색 결과에 없는 내용은 추측하지 말고 확인이 필요하다고 말씀드립니다.
3. 도구 결과에 [안내]가 있으면 그 안내대로 지역명을 다시 여쭤보세요.
4. 출처(제목, 지역)가 있으면 함께 알려드립니다.
5. 사용자를 배려하는 존댓말을 유지하세요.`

// ContextBuilder assembles the prompt for one routed turn.
type ContextBuilder struct {
	registries map[Mode]*tools.ToolRegistry
}

func NewContextBuilder(registries map[Mode]*tools.ToolRegistry) *ContextBuilder {
	return &ContextBuilder{registries: registries}
}

func (cb *ContextBuilder) identity(mode Mode) string {
	if mode == ModeInfo {
		return infoIdentity
	}
	return empathyIdentity
}

func (cb *ContextBuilder) buildToolsSection(mode Mode) string {
	registry := cb.registries[mode]
	if registry == nil {
		return ""
	}
	summaries := registry.GetSummaries()
	if len(summaries) == 0 {
		return ""
	}
	return "## 사용할 수 있는 도구\n\n" + strings.Join(summaries, "\n")
}

func buildProfileSection(p session.Profile) string {
	lines := []string{"## 사용자 정보"}
	if p.HasName() {
		lines = append(lines, fmt.Sprintf("- 호칭: %s", p.Title()))
	}
	add := func(label, value string) {
		if v := strings.TrimSpace(value); v != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", label, v))
		}
	}
	add("요즘 마음 상태", p.Emotion)
	add("거동 상태", p.Mobility)
	add("나이", p.Age)
	add("가족", p.Family)
	return strings.Join(lines, "\n")
}

// BuildSystemPrompt joins the mode identity, the user profile and the mode's
// tool list.
func (cb *ContextBuilder) BuildSystemPrompt(mode Mode, profile session.Profile) string {
	parts := []string{cb.identity(mode), buildProfileSection(profile)}
	if toolsSection := cb.buildToolsSection(mode); toolsSection != "" {
		parts = append(parts, toolsSection)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// BuildMessages returns system prompt, history and the current message.
func (cb *ContextBuilder) BuildMessages(mode Mode, profile session.Profile, history []providers.Message, current string) []providers.Message {
	systemPrompt := cb.BuildSystemPrompt(mode, profile)
	logger.DebugCF("agent", "System prompt built",
		map[string]interface{}{
			"mode":        string(mode),
			"total_chars": len(systemPrompt),
			"history":     len(history),
		})

	for len(history) > 0 && history[0].Role == "tool" {
		history = history[1:]
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	if strings.TrimSpace(current) != "" {
		messages = append(messages, providers.Message{Role: "user", Content: current})
	}
	return messages
}
