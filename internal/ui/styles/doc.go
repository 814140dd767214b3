// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling for the termchat TUI.

# Color System (colors.go)

All colors are Lip Gloss AdaptiveColor values, so the same palette works on
light and dark terminals:

  - Purple: assistant messages, selections
  - Cyan: brand, user prompt
  - Emerald: completed states, local (Ollama) models
  - Amber: warnings, loading, "stopped" notices
  - Rose: errors

Each provider has its own badge color (ProviderColor).

# Theme (theme.go)

NewTheme resolves the configured theme mode ("auto", "dark" or "light")
against what termenv reports about the terminal and builds every style the
chat view needs. GlamourStyle names the matching glamour stylesheet for
Markdown rendering.
*/
package styles
