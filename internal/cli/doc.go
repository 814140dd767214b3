// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the termchat command line.
//
// Running termchat without a subcommand opens the full-screen chat view.
// The subcommands cover scripted and line-mode use:
//
//	termchat                         open the chat view
//	termchat ask "question"          stream one answer to stdout
//	termchat chat                    line-editing chat in the terminal
//	termchat models                  list models from every provider
//	termchat history [id]            list, print or export saved conversations
//	termchat config show|get|set|path  read and edit config.toml
//
// Global flags:
//
//	-m, --model NAME          model for this run
//	-s, --style NAME          response style for this run
//	    --config FILE         config file (default ~/.termchat/config.toml)
//	-c, --conversation ID     resume a saved conversation
//	-v, --verbose             also log to stderr
//
// Every command builds the same stack: config, logging, the conversation
// store, the provider selector and a generation controller. Ctrl+C during a
// reply stops it through the controller, the same path Esc takes in the
// chat view.
package cli
