// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns a backend's fragment stream into rate-limited,
// ordered, cancellable display updates.
//
// # Key Types
//
//   - Token: one-shot cancellation flag shared by the generation goroutine
//     and whoever may cancel it (a key handler, a signal handler)
//   - Assembler: consumes an llm.Stream, batches fragments and hands the
//     growing text to a Sink
//   - Result: how a run ended (Completed, Cancelled, Failed) and the text
//     accumulated up to that point
//
// # Flushing
//
// Fragments are buffered and flushed when FlushInterval has passed since
// the previous flush or the buffer holds more than FlushSize characters.
// Every flush passes the whole text so far, so the sink only ever sees a
// growing prefix of the final reply. Whatever is still buffered when the
// stream ends is flushed once more.
//
// # Cancellation
//
// The token is checked before asking for each fragment and again after it
// arrives, so a fragment that lands after cancellation is never applied.
//
// # Usage
//
//	tok := stream.NewToken()
//	asm := stream.NewAssembler(tok, func(text string) { render(text) }, stream.DefaultConfig())
//	res := asm.Run(ctx, s, client)
//	switch res.Status {
//	case stream.Completed:
//	    save(res.Text)
//	case stream.Failed:
//	    showError(res.Err)
//	}
package stream
