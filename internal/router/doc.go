// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router maps a model id to the backend that serves it.
//
// The set of backends is closed (llm.Kinds), so construction is a single
// exhaustive switch in New. KindFor decides the backend from the
// configuration snapshot: an explicit provider on a configured model wins,
// then the compatible endpoint's model list, then the model name itself.
//
// # Key Types
//
//   - Selector: resolves model ids to clients, one cached client per kind
//
// # Usage
//
//	sel := router.NewSelector(cfg, snap, log)
//	client, err := sel.Resolve("claude-3-haiku")
//	if errors.Is(err, router.ErrProviderUnavailable) {
//	    // tell the user to configure a key
//	}
package router
