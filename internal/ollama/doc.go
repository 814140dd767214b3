// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama implements llm.Client for a local Ollama server.
//
// Conversations are flattened into a single /api/generate prompt: the style
// instruction (if any) followed by every message's text, separated by blank
// lines. Replies stream back as newline-delimited JSON.
//
// # Warmup
//
// Before a stream is opened the client checks /api/ps to see whether the
// model is resident. If the probe fails or the model is cold, it calls
// Request.OnLoading and sends an empty-prompt generate request that loads
// the model, waiting for it (up to Config.LoadTimeout) before the real
// request goes out. Callers should expect a long time-to-first-fragment in
// that case and show it as a loading state.
//
// # Key Types
//
//   - Client: the llm.Client implementation
//   - Config: base URL, timeouts and the fallback model list
//   - StreamReader: NDJSON reader for /api/generate responses
//
// # Usage
//
//	c := ollama.New(ollama.DefaultConfig(), log)
//	s, err := c.Stream(ctx, llm.Request{
//	    Model:     "llama3",
//	    Messages:  []llm.Message{{Role: model.RoleUser, Content: "Hello"}},
//	    OnLoading: func(m string) { fmt.Println("loading", m) },
//	})
package ollama
