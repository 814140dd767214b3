// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn is one message of a conversation.
//
// Assistant replies begin life as placeholders (IsComplete false, empty
// Text) and are grown by SetText as the stream is flushed. Text only ever
// grows while streaming; shorter updates are ignored so a late redraw can
// never roll the display back.
type Turn struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	IsComplete bool      `json:"is_complete"`
	IsError    bool      `json:"is_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewTurn creates a complete turn with the given role and text.
func NewTurn(role Role, text string) *Turn {
	return &Turn{
		ID:         uuid.NewString(),
		Role:       role,
		Text:       text,
		IsComplete: true,
		CreatedAt:  time.Now(),
	}
}

// NewPlaceholder creates the empty assistant turn a reply streams into.
func NewPlaceholder() *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
	}
}

// SetText replaces the streamed text of an incomplete turn. Updates that
// would shorten the text are dropped.
func (t *Turn) SetText(text string) {
	if t.IsComplete || len(text) < len(t.Text) {
		return
	}
	t.Text = text
}

// Complete stores the final text and marks the turn complete.
func (t *Turn) Complete(text string) {
	t.Text = text
	t.IsComplete = true
}

// Fail replaces the content with an error string and marks the turn
// complete. Failed turns are kept in history so it shows the failure.
func (t *Turn) Fail(message string) {
	t.Text = message
	t.IsError = true
	t.IsComplete = true
}

// IsPlaceholder reports whether the turn is an assistant reply still
// waiting for its first text.
func (t *Turn) IsPlaceholder() bool {
	return t.Role == RoleAssistant && !t.IsComplete && t.Text == ""
}

// Preview returns a single-line preview of the text, truncated to maxLen
// runes.
func (t *Turn) Preview(maxLen int) string {
	s := strings.Join(strings.Fields(t.Text), " ")
	runes := []rune(s)
	if maxLen <= 3 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
