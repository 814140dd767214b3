// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner shows progress on stderr while a reply has not started. It does
// nothing when the writer is not a terminal.
type Spinner struct {
	mu      sync.Mutex
	s       *spinner.Spinner
	running bool
}

// NewSpinner creates a stopped spinner labeled msg.
func NewSpinner(w io.Writer, msg string) *Spinner {
	if !isTerminal(w) {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = "  " + msg
	s.Color("cyan")
	return &Spinner{s: s}
}

// Start begins the animation.
func (sp *Spinner) Start() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.s == nil || sp.running {
		return
	}
	sp.running = true
	sp.s.Start()
}

// SetMessage changes the label.
func (sp *Spinner) SetMessage(msg string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.s == nil {
		return
	}
	sp.s.Lock()
	sp.s.Suffix = "  " + msg
	sp.s.Unlock()
}

// Stop halts the animation and clears the line.
func (sp *Spinner) Stop() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.s == nil || !sp.running {
		return
	}
	sp.running = false
	sp.s.Stop()
}
