// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the application's zap logger.
//
// The terminal belongs to the UI, so logs go to a size-rotated file under
// ~/.termchat/logs by default. Console output, when enabled, goes to stderr.
package logging
