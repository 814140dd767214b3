// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/util"
)

const appName = "termchat"

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatus(),
		m.theme.InputContainer.Width(m.width).Render(m.input.View()),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	title := m.opts.Session.Title()
	if title == "" {
		title = "New conversation"
	}
	left := m.theme.HeaderTitle.Render(appName)
	room := m.width - lipgloss.Width(left) - 4
	meta := m.theme.HeaderMeta.Render(util.TruncateWidth(title, max(room, 0)))
	return m.theme.Header.Width(m.width).Render(left + "  " + meta)
}

// renderStatus shows the spinner while busy, otherwise the last error or
// notice.
func (m Model) renderStatus() string {
	room := max(m.width-2, 1)
	switch {
	case m.busy:
		return m.spinner.View() + " " + m.theme.StatusBusy.Render(util.TruncateWidth(m.status, room))
	case m.errMsg != "":
		return m.theme.StatusError.Render(util.TruncateWidth(util.SingleLine(m.errMsg), m.width))
	case m.notice != "":
		return m.theme.StatusNotice.Render(util.TruncateWidth(m.notice, m.width))
	}
	return ""
}

func (m Model) renderFooter() string {
	modelID := m.opts.Session.Model()
	left := modelID
	if m.opts.KindOf != nil {
		if kind, ok := m.opts.KindOf(modelID); ok {
			left = m.theme.ProviderBadge(kind) + " " + modelID
		}
	}
	if style := m.opts.Session.Style(); style != "" {
		left += " · " + style
	}

	hints := m.help.ShortHelpView(m.keys.ShortHelp())
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(hints) - 2
	if gap < 1 {
		return m.theme.StatusBar.Width(m.width).Render(left)
	}
	return m.theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + hints)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func (m Model) renderTranscript() string {
	turns := m.opts.Session.Transcript().Turns()
	if len(turns) == 0 && m.info == "" {
		return m.theme.Timestamp.Render("Type a message and press Enter. /help lists commands.")
	}

	var b strings.Builder
	for i := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderTurn(&turns[i]))
	}
	if m.info != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.info)
	}
	return b.String()
}

func (m Model) renderTurn(t *model.Turn) string {
	var label string
	if t.Role == model.RoleUser {
		label = m.theme.UserLabel.Render("You")
	} else {
		label = m.theme.AssistantLabel.Render(t.Role.DisplayName())
	}
	if m.opts.ShowTimestamps {
		label += " " + m.theme.Timestamp.Render(t.CreatedAt.Format("15:04"))
	}

	bodyWidth := max(m.width-2, 1)
	var body string
	switch {
	case t.IsError:
		body = m.theme.ErrorText.Width(bodyWidth).Render(t.Text)
	case t.Role == model.RoleUser:
		body = m.theme.UserText.Width(bodyWidth).Render(t.Text)
	case t.IsPlaceholder():
		body = "  " + m.spinner.View() + " " + m.theme.StatusBusy.Render(m.status)
	case t.IsComplete:
		body = m.renderer.render(t.ID, t.Text)
	default:
		// Streaming text is wrapped as-is; it is rendered as Markdown once
		// the reply completes.
		body = m.theme.AssistantText.PaddingLeft(2).Width(bodyWidth).Render(t.Text)
	}
	return label + "\n" + body
}
