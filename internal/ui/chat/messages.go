// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/termchat/internal/catalog"
	"github.com/jeranaias/termchat/internal/generation"
)

// =============================================================================
// GENERATION MESSAGES
// =============================================================================

// StateMsg reports a controller state transition.
type StateMsg struct {
	State generation.State
}

// LoadingMsg reports that a backend is loading a cold model.
type LoadingMsg struct {
	Model string
}

// StreamUpdateMsg carries the reply text so far.
type StreamUpdateMsg struct {
	Text string
}

// NoticeMsg carries a transient status line.
type NoticeMsg struct {
	Text string
}

// TurnDoneMsg carries a turn's outcome once the controller is idle.
type TurnDoneMsg struct {
	Outcome generation.Outcome
}

// startFailedMsg reports that Controller.Start refused the turn.
type startFailedMsg struct {
	err error
}

// =============================================================================
// BACKGROUND MESSAGES
// =============================================================================

// TitleMsg carries a generated conversation title.
type TitleMsg struct {
	Title string
	Err   error
}

// ModelsMsg carries a refreshed model list.
type ModelsMsg struct {
	Entries []catalog.Entry
}

// =============================================================================
// PROGRAM BRIDGE
// =============================================================================

// bridge forwards messages from background goroutines into the running
// program. Messages sent before the program starts, or after it stops, are
// dropped.
type bridge struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

func (b *bridge) set(send func(tea.Msg)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.send = send
}

func (b *bridge) Send(msg tea.Msg) {
	b.mu.Lock()
	send := b.send
	b.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

// hooks returns controller hooks that forward into the program.
func (b *bridge) hooks() generation.Hooks {
	return generation.Hooks{
		OnState:   func(s generation.State) { b.Send(StateMsg{State: s}) },
		OnLoading: func(m string) { b.Send(LoadingMsg{Model: m}) },
		OnUpdate:  func(text string) { b.Send(StreamUpdateMsg{Text: text}) },
		OnNotice:  func(text string) { b.Send(NoticeMsg{Text: text}) },
		OnIdle:    func(o generation.Outcome) { b.Send(TurnDoneMsg{Outcome: o}) },
	}
}
