// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import "github.com/jeranaias/termchat/internal/model"

// =============================================================================
// RESPONSE STYLES
// =============================================================================

// Style names understood by every backend. Any other value (including
// "default" and "") means no style instruction.
const (
	StyleDefault   = "default"
	StyleConcise   = "concise"
	StyleDetailed  = "detailed"
	StyleTechnical = "technical"
	StyleFriendly  = "friendly"
)

// Each backend family phrases style instructions for how it injects them:
// OpenAI-style APIs get a system persona, Anthropic gets an inline
// <userStyle> directive, Ollama gets a prompt preamble.
var styleInstructions = map[Kind]map[string]string{
	KindOpenAI: {
		StyleConcise:   "You are a concise assistant. Provide brief, to-the-point responses without unnecessary elaboration.",
		StyleDetailed:  "You are a detailed assistant. Provide comprehensive responses with thorough explanations and examples.",
		StyleTechnical: "You are a technical assistant. Use precise technical language and focus on accuracy and technical details.",
		StyleFriendly:  "You are a friendly assistant. Use a warm, conversational tone and relatable examples.",
	},
	KindAnthropic: {
		StyleConcise:   "Be extremely concise and to the point. Use short sentences and paragraphs. Avoid unnecessary details.",
		StyleDetailed:  "Be comprehensive and thorough in your responses. Provide detailed explanations, examples, and cover all relevant aspects of the topic.",
		StyleTechnical: "Use precise technical language and terminology. Be formal and focus on accuracy and technical details.",
		StyleFriendly:  "Be warm, approachable and conversational. Use casual language, personal examples, and a friendly tone.",
	},
	KindOllama: {
		StyleConcise:   "Be extremely concise and to the point. Use short sentences and avoid unnecessary details.",
		StyleDetailed:  "Be comprehensive and thorough. Provide detailed explanations and examples.",
		StyleTechnical: "Use precise technical language and terminology. Focus on accuracy and technical details.",
		StyleFriendly:  "Be warm and conversational. Use casual language and a friendly tone.",
	},
}

// StyleInstruction returns the instruction text for style as phrased for
// kind, or "" when the style adds nothing.
func StyleInstruction(kind Kind, style string) string {
	if kind == KindOpenAICompatible {
		kind = KindOpenAI
	}
	return styleInstructions[kind][style]
}

// WithSystemStyle returns msgs with the style instruction prepended as a
// system message. msgs is not modified.
func WithSystemStyle(kind Kind, msgs []Message, style string) []Message {
	instr := StyleInstruction(kind, style)
	if instr == "" {
		return msgs
	}
	out := make([]Message, 0, len(msgs)+1)
	out = append(out, Message{Role: model.RoleSystem, Content: instr})
	return append(out, msgs...)
}
