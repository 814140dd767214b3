// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openai implements llm.Client for the OpenAI Chat Completions API
// using the official openai-go SDK. The response style is sent as a system
// message at the head of the conversation.
package openai
