// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"
)

// =============================================================================
// TRANSCRIPT TYPE
// =============================================================================

// Transcript is the ordered list of turns of one conversation, together
// with the settings it was started with.
//
// Transcript is safe for concurrent use: the generation goroutine grows the
// placeholder while the UI goroutine renders.
type Transcript struct {
	mu sync.RWMutex

	ConversationID string
	Title          string
	Model          string
	Style          string
	CreatedAt      time.Time

	turns []*Turn
}

// NewTranscript creates an empty transcript.
func NewTranscript(conversationID, modelID, style string) *Transcript {
	return &Transcript{
		ConversationID: conversationID,
		Model:          modelID,
		Style:          style,
		CreatedAt:      time.Now(),
	}
}

// Append adds a turn at the end and returns it.
func (tr *Transcript) Append(t *Turn) *Turn {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.turns = append(tr.turns, t)
	return t
}

// Remove drops the turn with the given ID. It reports whether a turn was
// removed.
func (tr *Transcript) Remove(id string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i, t := range tr.turns {
		if t.ID == id {
			tr.turns = append(tr.turns[:i], tr.turns[i+1:]...)
			return true
		}
	}
	return false
}

// Update runs fn on the turn with the given ID under the write lock.
func (tr *Transcript) Update(id string, fn func(*Turn)) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, t := range tr.turns {
		if t.ID == id {
			fn(t)
			return true
		}
	}
	return false
}

// Turns returns copies of all turns, in order.
func (tr *Transcript) Turns() []Turn {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]Turn, len(tr.turns))
	for i, t := range tr.turns {
		out[i] = *t
	}
	return out
}

// History returns the complete, non-error turns in order. This is what is
// sent to a provider as context for the next reply.
func (tr *Transcript) History() []Turn {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	out := make([]Turn, 0, len(tr.turns))
	for _, t := range tr.turns {
		if t.IsComplete && !t.IsError {
			out = append(out, *t)
		}
	}
	return out
}

// Len returns the number of turns.
func (tr *Transcript) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.turns)
}

// Clear removes all turns and forgets the conversation ID.
func (tr *Transcript) Clear() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.turns = nil
	tr.ConversationID = ""
	tr.Title = ""
}
