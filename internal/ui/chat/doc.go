// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view.
//
// # Layout
//
//	header      app name, conversation title
//	viewport    transcript; finished replies rendered as Markdown
//	status      spinner with "Thinking..." / "Preparing Ollama model...",
//	            or the last notice or error
//	input       multi-line textarea
//	footer      model, style and key hints
//
// # Generation
//
// The view never blocks on a backend. Enter hands the turn to a
// generation.Controller, whose hooks are forwarded into the program with
// tea.Program.Send and arrive in Update as ordinary messages. Esc cancels
// the turn from a command goroutine, since Controller.Cancel waits for the
// turn to unwind.
//
// # Key Bindings
//
//	Enter        send
//	Alt+Enter    new line
//	Esc          stop generating
//	Ctrl+N       new conversation
//	PgUp/PgDn    scroll
//	Ctrl+C       quit
//
// Lines starting with "/" are commands: /help, /new, /model, /style,
// /models and /quit.
package chat
