// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"strings"

	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/model"
)

const styleTag = "<userStyle>"

// ShapeMessages converts a conversation into Messages API form: system
// messages become <system>-wrapped user messages, the style directive goes
// in front of the first user message, and same-role neighbours are merged.
func ShapeMessages(msgs []llm.Message, style string) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		content := m.Content
		switch m.Role {
		case model.RoleSystem:
			content = "<system>\n" + m.Content + "\n</system>"
		case model.RoleAssistant:
			role = "assistant"
		}
		out = append(out, Message{Role: role, Content: content})
	}

	if instr := llm.StyleInstruction(llm.KindAnthropic, style); instr != "" {
		for i := range out {
			if out[i].Role != "user" {
				continue
			}
			if !strings.Contains(out[i].Content, styleTag) {
				out[i].Content = styleTag + instr + "</userStyle>\n\n" + out[i].Content
			}
			break
		}
	}

	return mergeAdjacent(out)
}

func mergeAdjacent(msgs []Message) []Message {
	if len(msgs) < 2 {
		return msgs
	}
	merged := msgs[:1]
	for _, m := range msgs[1:] {
		last := &merged[len(merged)-1]
		if last.Role == m.Role {
			last.Content += "\n\n" + m.Content
			continue
		}
		merged = append(merged, m)
	}
	return merged
}
