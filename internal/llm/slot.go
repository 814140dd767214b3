// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"sync"
)

// =============================================================================
// STREAM SLOT (THREAD-SAFE)
// =============================================================================

// StreamSlot holds the cancel function of a client's in-flight stream.
//
// A client owns one turn at a time, so one nullable handle is enough. The
// zero value is ready to use. StreamSlot must not be copied.
type StreamSlot struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

// Begin derives the context a new stream runs under and installs its cancel
// function, cancelling any stream still registered. The returned release
// func clears the slot (if it still belongs to this stream) and cancels the
// context; call it when the stream is done.
func (s *StreamSlot) Begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Cancel aborts the registered stream. Safe to call any number of times and
// with nothing registered.
func (s *StreamSlot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Active reports whether a stream is registered.
func (s *StreamSlot) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
