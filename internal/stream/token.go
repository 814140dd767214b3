// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// =============================================================================
// CANCELLATION TOKEN
// =============================================================================

// Token is a cancellation flag that can only go from live to cancelled.
// A fresh Token is allocated for every turn and never reset. All methods
// are safe for concurrent use.
type Token struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewToken returns a live token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token cancelled. Later calls do nothing.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Done returns a channel that is closed on cancellation, for use in
// select statements that wait on something else.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Context derives a context from parent that is also cancelled when the
// token is. The returned cancel func must be called to release the watcher.
func (t *Token) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
