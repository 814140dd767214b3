// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/llm"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config controls flush pacing.
type Config struct {
	// FlushInterval is the longest a fragment waits in the buffer while
	// more fragments keep arriving.
	FlushInterval time.Duration
	// FlushSize flushes early once more than this many characters wait.
	FlushSize int
	// Yield pauses after each flush to let a slow renderer catch up.
	// Zero disables it.
	Yield time.Duration
}

// DefaultConfig flushes every 100ms or 100 characters, with no yield.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 100 * time.Millisecond,
		FlushSize:     100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.FlushSize <= 0 {
		c.FlushSize = d.FlushSize
	}
	if c.Yield < 0 {
		c.Yield = 0
	}
	return c
}

// =============================================================================
// RESULT
// =============================================================================

// Status is how an assembler run ended.
type Status int

const (
	Completed Status = iota
	Cancelled
	Failed
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one run. Text is the ordered concatenation of
// every fragment applied before the run ended.
type Result struct {
	Status    Status
	Text      string
	Err       error
	Fragments int
	Flushes   int
}

// Sink receives the full text so far on each flush. It is called from the
// assembler's goroutine and should return quickly.
type Sink func(text string)

// Canceler aborts a backend stream. llm.Client satisfies it.
type Canceler interface {
	CancelStream()
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Assembler drives one fragment stream into a sink.
type Assembler struct {
	cfg   Config
	token *Token
	sink  Sink
	now   func() time.Time
	log   *zap.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock replaces time.Now; tests use it to control flush timing.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(a *Assembler) { a.log = log }
}

// NewAssembler returns an assembler observing token and flushing to sink.
// A nil sink discards updates.
func NewAssembler(token *Token, sink Sink, cfg Config, opts ...Option) *Assembler {
	if token == nil {
		token = NewToken()
	}
	if sink == nil {
		sink = func(string) {}
	}
	a := &Assembler{
		cfg:   cfg.withDefaults(),
		token: token,
		sink:  sink,
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// run holds the state of a single Run call.
type run struct {
	acc strings.Builder
	buf *pendingBuffer
	res Result
}

// text returns everything applied so far, flushed or not.
func (r *run) text() string {
	return r.acc.String() + r.buf.pending()
}

// Run consumes src until it ends, fails or the token is cancelled. src is
// always closed before Run returns. On a stream error canceler.CancelStream
// is called once; canceler may be nil.
func (a *Assembler) Run(ctx context.Context, src llm.Stream, canceler Canceler) Result {
	defer src.Close()

	r := &run{buf: newPendingBuffer(a.cfg.FlushInterval, a.cfg.FlushSize, a.now())}

	for {
		// Checked before blocking on the next fragment...
		if a.stopped(ctx) {
			return a.cancelled(r)
		}
		if !src.Next() {
			break
		}
		// ...and again before applying it, in case cancellation raced the read.
		if a.stopped(ctx) {
			return a.cancelled(r)
		}

		r.buf.write(src.Current())
		r.res.Fragments++

		if now := a.now(); r.buf.due(now) {
			a.flush(r, now)
			if !a.yield(ctx) {
				return a.cancelled(r)
			}
		}
	}

	if err := src.Err(); err != nil {
		// Reads fail as a side effect of cancelling the stream.
		if a.stopped(ctx) || llm.IsCancelled(err) {
			return a.cancelled(r)
		}
		if canceler != nil {
			canceler.CancelStream()
		}
		r.res.Status = Failed
		r.res.Text = r.text()
		r.res.Err = err
		a.log.Debug("stream failed",
			zap.Int("fragments", r.res.Fragments),
			zap.Int("partial_chars", len(r.res.Text)),
			zap.Error(err))
		return r.res
	}

	if !r.buf.empty() {
		a.flush(r, a.now())
	}
	r.res.Status = Completed
	r.res.Text = r.acc.String()
	a.log.Debug("stream completed",
		zap.Int("fragments", r.res.Fragments),
		zap.Int("flushes", r.res.Flushes))
	return r.res
}

func (a *Assembler) stopped(ctx context.Context) bool {
	return a.token.Cancelled() || ctx.Err() != nil
}

func (a *Assembler) flush(r *run, now time.Time) {
	r.acc.WriteString(r.buf.take(now))
	r.res.Flushes++
	a.sink(r.acc.String())
}

// yield waits cfg.Yield, returning false if cancelled meanwhile.
func (a *Assembler) yield(ctx context.Context) bool {
	if a.cfg.Yield <= 0 {
		return true
	}
	t := time.NewTimer(a.cfg.Yield)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-a.token.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (a *Assembler) cancelled(r *run) Result {
	r.res.Status = Cancelled
	r.res.Text = r.text()
	r.res.Err = llm.ErrCancelled
	a.log.Debug("stream cancelled", zap.Int("fragments", r.res.Fragments))
	return r.res
}
