// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for termchat.
//
// Configuration lives in a single TOML file with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: the complete configuration
//   - Snapshot: the read-only view the provider selector works from
//   - Watcher: reloads the file when it changes on disk
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OPENAI_API_KEY, ANTHROPIC_API_KEY, TERMCHAT_*)
//   - ~/.termchat/config.toml
//   - Built-in defaults
//
// TERMCHAT_HOME relocates the whole ~/.termchat directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	snap := config.ProbeAvailability(ctx, cfg, nil)
package config
