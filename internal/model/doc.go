// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the in-memory data structures for conversations.
//
// # Key Types
//
//   - Role: who produced a turn (user, assistant, system)
//   - Turn: one message of a conversation; assistant turns start as empty
//     placeholders and grow while a reply streams in
//   - Transcript: the ordered turns of the conversation on screen
//
// A Turn is owned by whoever is generating it until IsComplete is set. Only
// complete turns are handed to storage or sent back to a provider as history.
//
// # Usage
//
//	tr := model.NewTranscript(convID, "llama3", "default")
//	tr.Append(model.NewTurn(model.RoleUser, "hello"))
//	reply := tr.Append(model.NewPlaceholder())
//	reply.SetText("Hi")
//	reply.Complete("Hi there!")
package model
