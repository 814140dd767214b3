// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/termchat/internal/catalog"
	"github.com/jeranaias/termchat/internal/util"
)

const commandHelp = `Commands:
  /help            show this help
  /new             start a new conversation
  /model [id]      show or switch the model
  /style [id]      show or switch the response style
  /models          list available models
  /quit            exit`

// runCommand handles a "/" line. The input is cleared unless the command
// is refused.
func (m *Model) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	m.errMsg = ""
	m.notice = ""

	switch name {
	case "/help", "/?":
		m.showHelp()

	case "/new", "/clear":
		m.newConversation()

	case "/model":
		if len(args) == 0 {
			m.notice = "Model: " + m.opts.Session.Model()
			break
		}
		if !m.setModel(args[0]) {
			return nil
		}

	case "/style":
		if len(args) == 0 {
			m.notice = fmt.Sprintf("Style: %s (available: %s)",
				m.opts.Session.Style(), strings.Join(m.opts.Styles, ", "))
			break
		}
		if !m.setStyle(args[0]) {
			return nil
		}

	case "/models":
		m.wantModels = true
		var entries []catalog.Entry
		if m.opts.Catalog != nil {
			entries = m.opts.Catalog.Entries()
		}
		m.info = formatModels(entries, m.opts.Session.Model())
		if m.opts.Refresher != nil {
			m.opts.Refresher.Trigger()
			m.notice = "Refreshing model list..."
		}
		m.refreshFollow(true)

	case "/quit", "/exit":
		m.quitting = true
		m.input.Reset()
		if m.busy {
			return tea.Sequence(m.cancelCmd(), tea.Quit)
		}
		return tea.Quit

	default:
		m.errMsg = "Unknown command: " + name + " (try /help)"
		return nil
	}

	m.input.Reset()
	return nil
}

// setModel switches the model for later turns. Ids missing from a
// non-empty catalog are refused.
func (m *Model) setModel(id string) bool {
	if m.busy {
		m.notice = "Stop the current reply before switching models"
		return false
	}
	if m.opts.Catalog != nil && len(m.opts.Catalog.Entries()) > 0 {
		if _, ok := m.opts.Catalog.Lookup(id); !ok {
			m.errMsg = "Unknown model: " + id + " (see /models)"
			return false
		}
	}
	m.opts.Session.SetModel(id, m.opts.MaxTokens(id))
	m.notice = "Switched to " + id
	return true
}

func (m *Model) setStyle(id string) bool {
	if len(m.opts.Styles) > 0 && !slices.Contains(m.opts.Styles, id) {
		m.errMsg = "Unknown style: " + id
		return false
	}
	m.opts.Session.SetStyle(id)
	m.notice = "Style set to " + id
	return true
}

// formatModels lists entries one per line, marking the current model.
func formatModels(entries []catalog.Entry, current string) string {
	if len(entries) == 0 {
		return "No models available. Check that a provider is configured."
	}
	idWidth := 0
	for _, e := range entries {
		idWidth = max(idWidth, util.StringWidth(e.ID))
	}
	idWidth = min(idWidth, 40)

	var b strings.Builder
	b.WriteString("Models:\n")
	for _, e := range entries {
		mark := "  "
		if e.ID == current {
			mark = "* "
		}
		fmt.Fprintf(&b, "%s%s  %-10s %s\n", mark, util.PadWidth(e.ID, idWidth), e.Kind, e.DisplayName)
	}
	return strings.TrimRight(b.String(), "\n")
}
