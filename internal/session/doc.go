// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session ties one conversation to the generation controller.
//
// A Session owns the in-memory transcript and knows how a user turn maps
// onto storage: the conversation row is created lazily on the first
// message, user messages are stored as they are submitted, and the
// assistant placeholder is reconciled from the controller's Outcome. Both
// the TUI and the line-mode REPL drive a Session.
//
// # Usage
//
//	s := session.New(store, selector, titles, session.Config{Model: "llama3"}, log)
//	turn, err := s.Begin(ctx, "hello")
//	ch, err := controller.Start(ctx, turn)
//	if s.Finish(<-ch) {
//	    s.GenerateTitle(ctx)
//	}
package session
