// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package anthropic implements llm.Client for the Anthropic Messages API.
//
// The Messages API only accepts user and assistant turns that strictly
// alternate, so the client reshapes a conversation before sending it:
// system messages become user messages wrapped in <system> tags, the
// response style is prepended to the first user message as a <userStyle>
// directive, and adjacent messages with the same role are merged.
//
// Streaming replies arrive as Server-Sent Events; only content_block_delta
// text deltas produce fragments and message_stop ends the stream.
//
// # Key Types
//
//   - Client: the llm.Client implementation
//   - Config: API key, base URL, API version and timeouts
//   - EventReader: SSE event reader
package anthropic
