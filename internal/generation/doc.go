// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generation runs one assistant turn at a time.
//
// A Controller owns the turn lifecycle:
//
//	Idle -> Starting -> Streaming -> Completed | Cancelled | Failed -> Idle
//
// Start resolves the backend, opens the stream and drives it through a
// stream.Assembler on its own goroutine. Cancel may be called from any
// goroutine, typically a key handler, and interrupts an in-flight read.
//
// Completed and Failed replies are handed to the Store exactly once.
// Cancelled replies are dropped.
package generation
