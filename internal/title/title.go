// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package title

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/util"
)

// Prompt is the system instruction for title requests.
const Prompt = "Generate a brief, descriptive title (maximum 40 characters) for a conversation " +
	"that starts with the following message. The title should be concise and reflect the main " +
	"topic or query. Return only the title text with no additional explanation or formatting."

const (
	// MaxLength is the longest title kept, in runes.
	MaxLength = 40
	// MaxTokens bounds the completion.
	MaxTokens = 60
)

// Generator produces titles. The zero value is not usable; use New.
type Generator struct {
	Retry llm.RetryPolicy
	Now   func() time.Time
	log   *zap.Logger
}

// New returns a Generator with the default retry policy.
func New(log *zap.Logger) *Generator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{Retry: llm.DefaultRetry, Now: time.Now, log: log.Named("title")}
}

// Generate asks c for a title for a conversation opening with
// firstMessage. It never fails: when every attempt errors, or the model
// returns nothing usable, it returns Fallback.
func (g *Generator) Generate(ctx context.Context, c llm.Completer, modelID, firstMessage string) string {
	req := llm.Request{
		Model:       modelID,
		Temperature: llm.DefaultTemperature,
		MaxTokens:   MaxTokens,
		Messages: []llm.Message{
			{Role: model.RoleSystem, Content: Prompt},
			{Role: model.RoleUser, Content: firstMessage},
		},
	}

	text, err := llm.CompleteWithRetry(ctx, c, req, g.Retry)
	if err != nil {
		g.log.Warn("title generation failed", zap.String("model", modelID), zap.Error(err))
		return Fallback(g.Now())
	}
	t := Clean(text)
	if t == "" {
		return Fallback(g.Now())
	}
	g.log.Debug("generated title", zap.Int("runes", util.RuneLen(t)))
	return t
}

// Generate uses a default Generator.
func Generate(ctx context.Context, c llm.Completer, modelID, firstMessage string) string {
	return New(nil).Generate(ctx, c, modelID, firstMessage)
}

// Clean trims whitespace and surrounding quotes, collapses the title to one
// line and cuts it to MaxLength runes.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = util.SingleLine(s)
	return util.TruncateRunes(s, MaxLength)
}

// Fallback is the title used when none could be generated.
func Fallback(now time.Time) string {
	return "Conversation (" + now.Format("2006-01-02 15:04") + ")"
}
