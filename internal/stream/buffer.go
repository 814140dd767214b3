// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"time"
	"unicode/utf8"
)

// =============================================================================
// PENDING BUFFER
// =============================================================================

// pendingBuffer holds fragments received since the last flush.
//
// It is owned by a single Assembler run and is not safe for concurrent use.
type pendingBuffer struct {
	buf       strings.Builder
	chars     int
	lastFlush time.Time

	interval time.Duration
	size     int
}

func newPendingBuffer(interval time.Duration, size int, now time.Time) *pendingBuffer {
	return &pendingBuffer{interval: interval, size: size, lastFlush: now}
}

// write appends a fragment.
func (b *pendingBuffer) write(frag string) {
	b.buf.WriteString(frag)
	b.chars += utf8.RuneCountInString(frag)
}

// due reports whether the buffer should be flushed at now: either the
// interval has elapsed since the last flush or more than size characters
// are waiting.
func (b *pendingBuffer) due(now time.Time) bool {
	if b.buf.Len() == 0 {
		return false
	}
	if b.chars > b.size {
		return true
	}
	return now.Sub(b.lastFlush) >= b.interval
}

// take empties the buffer, records now as the flush time and returns what
// was buffered.
func (b *pendingBuffer) take(now time.Time) string {
	s := b.buf.String()
	b.buf.Reset()
	b.chars = 0
	b.lastFlush = now
	return s
}

// pending returns the buffered text without flushing it.
func (b *pendingBuffer) pending() string {
	return b.buf.String()
}

func (b *pendingBuffer) empty() bool {
	return b.buf.Len() == 0
}
