// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package compat implements llm.Client for servers that speak the OpenAI
// chat API at a configurable base URL: vLLM, LM Studio, llama.cpp server,
// OpenRouter and the like. Message shaping matches the openai package.
package compat
