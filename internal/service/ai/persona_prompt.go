package ai

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/hertscortex/backend/internal/model/chat"
	"github.com/zhouzirui/hertscortex/backend/internal/model/persona"
)

// RefusalLine is what every persona answers to questions outside the notes.
const RefusalLine = "Sorry, I can only answer questions related to the provided lecture notes."

var formattingRules = []string{
	"Answer the user's question based strictly on the provided Context.",
	`If the user's question is unrelated to the Context, respond with "` + RefusalLine + `"`,
	"Maintain the persona at all times.",
	"Use Markdown for formatting: ## headings, **bold**, bullet lists and tables where they help.",
	"Put code in fenced code blocks with a language tag.",
	"Write mathematics in LaTeX, inline as $...$ and display as $$...$$.",
}

// buildSystemPrompt 组合角色指令、课程资料与输出规范。
func buildSystemPrompt(spec persona.Spec, content string) string {
	var b strings.Builder
	b.WriteString(spec.Instruction)
	b.WriteString("\n\nCONTEXT / LECTURE NOTES:\n")
	b.WriteString(content)
	b.WriteString("\n\nINSTRUCTIONS:\n- ")
	b.WriteString(strings.Join(formattingRules, "\n- "))
	return b.String()
}

// buildHistoryMessages converts every non-empty turn, or only the last limit turns when
// limit is positive.
func buildHistoryMessages(turns []chat.Turn, limit int) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if limit > 0 && len(turns) > limit {
		startIdx = len(turns) - limit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(text))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(text, nil))
		}
	}
	return history
}
