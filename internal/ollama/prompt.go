// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"strings"

	"github.com/jeranaias/termchat/internal/llm"
)

// BuildPrompt flattens a conversation into one prompt: the style
// instruction first, then each message's text, separated by blank lines.
func BuildPrompt(msgs []llm.Message, style string) string {
	parts := make([]string, 0, len(msgs)+1)
	if instr := llm.StyleInstruction(llm.KindOllama, style); instr != "" {
		parts = append(parts, instr)
	}
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}
