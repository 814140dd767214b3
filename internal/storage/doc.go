// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations in a local SQLite database.
//
// # Key Types
//
//   - Store: the database handle, safe for concurrent use
//   - Conversation: a conversation with its messages
//   - Summary: lightweight metadata for listings
//
// # Usage
//
//	store, err := storage.Open(config.DataPath("history.db"), storage.Options{})
//	id, err := store.CreateConversation(ctx, "", "llama3", "default")
//	err = store.AppendMessage(ctx, id, model.RoleUser, "hello")
//	conv, err := store.GetConversation(ctx, id)
//
// Only completed and failed assistant replies are ever appended; cancelled
// replies never reach the store.
//
// # Storage Location
//
// The database lives at ~/.termchat/history.db, in WAL mode with a single
// writer connection.
package storage
