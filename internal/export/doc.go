// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders stored conversations as Markdown, JSON or a
// self-contained HTML page.
//
//	e, err := export.ForFormat("html", export.DefaultOptions())
//	path, err := export.WriteFile(conv, e, dir)
package export
