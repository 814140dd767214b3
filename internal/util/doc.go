// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across termchat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, PadWidth: display-width aware truncation and padding
//   - SingleLine: collapse a multi-line string for one-line listings
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	// Fit a conversation title into a 30-cell column
//	col := util.PadWidth(title, 30)
//
//	// Write the model cache without risking a torn file
//	err := util.AtomicWriteFile(path, data, 0600)
package util
