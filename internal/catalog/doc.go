// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog keeps the list of models the user can pick from.
//
// The list merges the configured models with what each available backend
// reports, and is cached on disk so startup never waits on the network.
// A Refresher updates it in the background, at most once a minute, on a
// context of its own that no generation turn can cancel.
package catalog
