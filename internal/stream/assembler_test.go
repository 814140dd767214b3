// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/llm"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// sliceStream yields frags in order, then ends with err (nil for a clean end).
type sliceStream struct {
	frags  []string
	err    error
	onNext func(i int)

	i      int
	cur    string
	closed int
}

func (s *sliceStream) Next() bool {
	if s.i >= len(s.frags) {
		return false
	}
	if s.onNext != nil {
		s.onNext(s.i)
	}
	s.cur = s.frags[s.i]
	s.i++
	return true
}

func (s *sliceStream) Current() string { return s.cur }

func (s *sliceStream) Err() error {
	if s.i >= len(s.frags) {
		return s.err
	}
	return nil
}

func (s *sliceStream) Close() error {
	s.closed++
	return nil
}

type countingCanceler struct{ n int }

func (c *countingCanceler) CancelStream() { c.n++ }

// recorder captures every sink call.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) sink(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, text)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// frozenClock never advances, so only size or the final flush trigger.
func frozenClock() func() time.Time {
	t0 := time.Unix(1700000000, 0)
	return func() time.Time { return t0 }
}

// steppingClock advances by step on every reading.
func steppingClock(step time.Duration) func() time.Time {
	t := time.Unix(1700000000, 0)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAssembler_CompletesWithFullText(t *testing.T) {
	rec := &recorder{}
	src := &sliceStream{frags: []string{"Hel", "lo, ", "world!"}}
	asm := NewAssembler(NewToken(), rec.sink, DefaultConfig(), WithClock(frozenClock()))

	res := asm.Run(context.Background(), src, &countingCanceler{})

	require.Equal(t, Completed, res.Status)
	assert.Equal(t, "Hello, world!", res.Text)
	calls := rec.all()
	require.NotEmpty(t, calls)
	assert.LessOrEqual(t, len(calls), 3)
	assert.Equal(t, "Hello, world!", calls[len(calls)-1])
	assert.Equal(t, 1, src.closed)
}

func TestAssembler_CancelledBetweenFragments(t *testing.T) {
	rec := &recorder{}
	tok := NewToken()
	src := &sliceStream{
		frags: []string{"a", "b", "c", "d"},
		// "b" has been applied by the time the third fragment is requested.
		onNext: func(i int) {
			if i == 2 {
				tok.Cancel()
			}
		},
	}
	asm := NewAssembler(tok, rec.sink, DefaultConfig(), WithClock(steppingClock(time.Second)))

	res := asm.Run(context.Background(), src, nil)

	require.Equal(t, Cancelled, res.Status)
	assert.Equal(t, "ab", res.Text)
	assert.True(t, llm.IsCancelled(res.Err))
	for _, c := range rec.all() {
		assert.NotContains(t, c, "c")
		assert.NotContains(t, c, "d")
	}
	assert.Equal(t, 1, src.closed)
}

func TestAssembler_TransportErrorFailsWithPartial(t *testing.T) {
	canceler := &countingCanceler{}
	src := &sliceStream{
		frags: []string{"partial"},
		err:   llm.Transport("ollama", errors.New("connection reset by peer")),
	}
	asm := NewAssembler(NewToken(), nil, DefaultConfig(), WithClock(frozenClock()))

	res := asm.Run(context.Background(), src, canceler)

	require.Equal(t, Failed, res.Status)
	assert.Equal(t, "partial", res.Text)
	assert.True(t, errors.Is(res.Err, llm.ErrNetwork))
	assert.Equal(t, 1, canceler.n, "CancelStream must run exactly once during unwind")
	assert.Equal(t, 1, src.closed)
}

// cancelOnEnd cancels the token when the stream runs dry and then reports a
// plain read error, the way a torn-down connection does.
type cancelOnEnd struct {
	sliceStream
	tok *Token
}

func (c *cancelOnEnd) Next() bool {
	if c.sliceStream.Next() {
		return true
	}
	c.tok.Cancel()
	return false
}

func TestAssembler_ErrorAfterCancelIsCancelled(t *testing.T) {
	tok := NewToken()
	canceler := &countingCanceler{}
	src := &cancelOnEnd{
		sliceStream: sliceStream{frags: []string{"x"}, err: errors.New("use of closed network connection")},
		tok:         tok,
	}
	asm := NewAssembler(tok, nil, DefaultConfig(), WithClock(frozenClock()))

	res := asm.Run(context.Background(), src, canceler)

	assert.Equal(t, Cancelled, res.Status)
	assert.Equal(t, "x", res.Text)
	assert.Equal(t, 0, canceler.n, "a cancelled stream is not cancelled again")
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestAssembler_FlushesArePrefixesOfFinalText(t *testing.T) {
	frags := []string{"The ", "quick ", "brown ", "fox ", "jumps ", "over ", "the ", "lazy ", "dog."}
	for _, step := range []time.Duration{0, 30 * time.Millisecond, 150 * time.Millisecond} {
		rec := &recorder{}
		src := &sliceStream{frags: frags}
		asm := NewAssembler(NewToken(), rec.sink, DefaultConfig(), WithClock(steppingClock(step)))

		res := asm.Run(context.Background(), src, nil)

		require.Equal(t, Completed, res.Status)
		require.Equal(t, strings.Join(frags, ""), res.Text)
		prev := ""
		for _, c := range rec.all() {
			assert.True(t, strings.HasPrefix(res.Text, c), "flush %q is not a prefix", c)
			assert.GreaterOrEqual(t, len(c), len(prev), "flush shrank")
			prev = c
		}
		assert.Equal(t, res.Text, prev)
		assert.Equal(t, len(frags), res.Fragments)
	}
}

func TestAssembler_NoDoubleApplyAcrossFlushBoundaries(t *testing.T) {
	frags := []string{"aa", "bb", "cc", "dd"}
	rec := &recorder{}
	asm := NewAssembler(NewToken(), rec.sink, DefaultConfig(), WithClock(steppingClock(time.Second)))

	res := asm.Run(context.Background(), &sliceStream{frags: frags}, nil)

	assert.Equal(t, "aabbccdd", res.Text)
	assert.Equal(t, []string{"aa", "aabb", "aabbcc", "aabbccdd"}, rec.all())
	assert.Equal(t, 4, res.Flushes)
}

func TestAssembler_FlushBySize(t *testing.T) {
	big := strings.Repeat("x", 101)
	rec := &recorder{}
	src := &sliceStream{frags: []string{"a", big, "b"}}
	asm := NewAssembler(NewToken(), rec.sink, DefaultConfig(), WithClock(frozenClock()))

	res := asm.Run(context.Background(), src, nil)

	require.Equal(t, Completed, res.Status)
	assert.Equal(t, []string{"a" + big, "a" + big + "b"}, rec.all())
}

func TestAssembler_SizeCountsCharactersNotBytes(t *testing.T) {
	// 60 two-byte runes: 120 bytes but only 60 characters.
	rec := &recorder{}
	src := &sliceStream{frags: []string{strings.Repeat("é", 60), "z"}}
	asm := NewAssembler(NewToken(), rec.sink, DefaultConfig(), WithClock(frozenClock()))

	asm.Run(context.Background(), src, nil)

	assert.Len(t, rec.all(), 1, "only the final flush should happen")
}

func TestAssembler_TokenSetBeforeStart(t *testing.T) {
	tok := NewToken()
	tok.Cancel()
	src := &sliceStream{frags: []string{"never"}}

	res := NewAssembler(tok, nil, DefaultConfig()).Run(context.Background(), src, nil)

	assert.Equal(t, Cancelled, res.Status)
	assert.Equal(t, "", res.Text)
	assert.Equal(t, 0, src.i, "no fragment should be requested")
}

func TestAssembler_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &sliceStream{
		frags: []string{"a", "b"},
		onNext: func(i int) {
			if i == 1 {
				cancel()
			}
		},
	}
	res := NewAssembler(NewToken(), nil, DefaultConfig()).Run(ctx, src, nil)
	assert.Equal(t, Cancelled, res.Status)
	assert.Equal(t, "a", res.Text)
}

func TestAssembler_YieldIsCancellable(t *testing.T) {
	tok := NewToken()
	cfg := DefaultConfig()
	cfg.Yield = time.Hour
	// The sink cancels, as a UI thread would while the assembler is pausing.
	sink := func(string) { tok.Cancel() }
	asm := NewAssembler(tok, sink, cfg, WithClock(steppingClock(time.Second)))

	done := make(chan Result, 1)
	go func() { done <- asm.Run(context.Background(), &sliceStream{frags: []string{"a", "b"}}, nil) }()

	select {
	case res := <-done:
		assert.Equal(t, Cancelled, res.Status)
		assert.Equal(t, "a", res.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("yield did not observe cancellation")
	}
}

// blockingStream hands out one fragment and then blocks until unblocked,
// like a connection waiting on a slow model.
type blockingStream struct {
	unblock chan struct{}
	reading chan struct{} // closed once Next is parked on unblock
	served  bool
	err     error
	closed  chan struct{}
	once    sync.Once
}

func (b *blockingStream) Next() bool {
	if !b.served {
		b.served = true
		return true
	}
	close(b.reading)
	<-b.unblock
	b.err = llm.Transport("test", context.Canceled)
	return false
}

func (b *blockingStream) Current() string { return "first" }
func (b *blockingStream) Err() error      { return b.err }
func (b *blockingStream) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func TestAssembler_CancelWhileBlockedInRead(t *testing.T) {
	tok := NewToken()
	src := &blockingStream{
		unblock: make(chan struct{}),
		reading: make(chan struct{}),
		closed:  make(chan struct{}),
	}
	asm := NewAssembler(tok, nil, DefaultConfig(), WithClock(frozenClock()))

	done := make(chan Result, 1)
	go func() { done <- asm.Run(context.Background(), src, nil) }()

	select {
	case <-src.reading:
	case <-time.After(2 * time.Second):
		t.Fatal("assembler never blocked on the second read")
	}

	// What the controller does: set the token, then tear down the connection.
	tok.Cancel()
	close(src.unblock)

	select {
	case res := <-done:
		assert.Equal(t, Cancelled, res.Status)
		assert.Equal(t, "first", res.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("assembler did not return after cancellation")
	}
	<-src.closed
}

// =============================================================================
// TOKEN
// =============================================================================

func TestToken_CancelIsSticky(t *testing.T) {
	tok := NewToken()
	assert.False(t, tok.Cancelled())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok.Cancel()
		}()
	}
	wg.Wait()

	assert.True(t, tok.Cancelled())
	select {
	case <-tok.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestToken_FreshTokensAreIndependent(t *testing.T) {
	first := NewToken()
	first.Cancel()
	second := NewToken()
	assert.NotSame(t, first, second)
	assert.False(t, second.Cancelled())
}

func TestToken_Context(t *testing.T) {
	tok := NewToken()
	ctx, cancel := tok.Context(context.Background())
	defer cancel()

	tok.Cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by token")
	}
}
