// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm defines the contract every model backend implements.
//
// A backend is an llm.Client: it can answer a request in one piece
// (Complete), open a fragment stream (Stream), list the models it serves
// (ListModels), and abort the stream it most recently opened (CancelStream).
// The concrete clients live in the ollama, anthropic, openai and compat
// packages; the router package picks one for a model id.
//
// # Key Types
//
//   - Kind: closed set of backends (OpenAI, Anthropic, Ollama, OpenAICompatible)
//   - Client: the capability surface shared by all backends
//   - Stream: lazy, non-restartable sequence of text fragments
//   - StreamSlot: the single cancellable handle a client keeps for its
//     in-flight stream
//   - Error / ErrorKind: the error taxonomy (Network, RateLimited, Protocol,
//     Auth, CancelledByUser, ModelUnavailable)
//
// # Streams
//
// Stream follows the Next/Current/Err/Close iterator shape:
//
//	s, err := client.Stream(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	for s.Next() {
//	    fmt.Print(s.Current())
//	}
//	return s.Err()
//
// A stream releases its connection when it is exhausted, when Close is
// called, or when CancelStream is called on the client that opened it.
// Close and CancelStream are idempotent and safe to call from another
// goroutine while Next is blocked.
//
// # Retries
//
// Clients never retry. CompleteWithRetry applies the bounded retry policy
// for one-shot completions; streams are never retried.
package llm
