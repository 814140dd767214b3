// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/stream"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// sliceStream yields frags, then ends with err.
type sliceStream struct {
	frags []string
	err   error
	i     int
	cur   string
}

func (s *sliceStream) Next() bool {
	if s.i >= len(s.frags) {
		return false
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
func (s *sliceStream) Close() error { return nil }

// blockingStream yields first, then blocks until aborted or ctx ends.
type blockingStream struct {
	ctx   context.Context
	first string
	sent  bool
	cur   string
	err   error
	abort chan struct{}
	once  sync.Once
}

func newBlockingStream(ctx context.Context, first string) *blockingStream {
	return &blockingStream{ctx: ctx, first: first, abort: make(chan struct{})}
}

func (s *blockingStream) Next() bool {
	if !s.sent && s.first != "" {
		s.sent = true
		s.cur = s.first
		return true
	}
	select {
	case <-s.abort:
		s.err = llm.NewError(llm.ErrorCancelled, "fake", "stream aborted", nil)
	case <-s.ctx.Done():
		s.err = llm.Transport("fake", s.ctx.Err())
	}
	return false
}
func (s *blockingStream) Current() string { return s.cur }
func (s *blockingStream) Err() error      { return s.err }
func (s *blockingStream) Close() error {
	s.stop()
	return nil
}
func (s *blockingStream) stop() { s.once.Do(func() { close(s.abort) }) }

type fakeClient struct {
	open    func(ctx context.Context, req llm.Request) (llm.Stream, error)
	cancels atomic.Int32

	mu      sync.Mutex
	current *blockingStream
}

func (f *fakeClient) Kind() llm.Kind { return llm.KindOllama }

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeClient) ListModels(ctx context.Context) []llm.ModelInfo { return nil }

func (f *fakeClient) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	s, err := f.open(ctx, req)
	if b, ok := s.(*blockingStream); ok {
		f.mu.Lock()
		f.current = b
		f.mu.Unlock()
	}
	return s, err
}

func (f *fakeClient) CancelStream() {
	f.cancels.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		f.current.stop()
		f.current = nil
	}
}

type resolverFunc func(string) (llm.Client, error)

func (f resolverFunc) Resolve(id string) (llm.Client, error) { return f(id) }

func fixed(c llm.Client) Resolver {
	return resolverFunc(func(string) (llm.Client, error) { return c, nil })
}

type stored struct {
	conv string
	role model.Role
	text string
}

type memStore struct {
	mu   sync.Mutex
	rows []stored
}

func (m *memStore) AppendMessage(ctx context.Context, conv string, role model.Role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, stored{conv, role, text})
	return nil
}

func (m *memStore) all() []stored {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stored(nil), m.rows...)
}

// events records hook calls.
type events struct {
	mu      sync.Mutex
	states  []State
	updates []string
	notices []string
	loading []string
	idle    []Outcome
}

func (e *events) hooks() Hooks {
	return Hooks{
		OnState:   func(s State) { e.mu.Lock(); e.states = append(e.states, s); e.mu.Unlock() },
		OnUpdate:  func(t string) { e.mu.Lock(); e.updates = append(e.updates, t); e.mu.Unlock() },
		OnNotice:  func(t string) { e.mu.Lock(); e.notices = append(e.notices, t); e.mu.Unlock() },
		OnLoading: func(m string) { e.mu.Lock(); e.loading = append(e.loading, m); e.mu.Unlock() },
		OnIdle:    func(o Outcome) { e.mu.Lock(); e.idle = append(e.idle, o); e.mu.Unlock() },
	}
}

func (e *events) snapshot() events {
	e.mu.Lock()
	defer e.mu.Unlock()
	return events{
		states:  append([]State(nil), e.states...),
		updates: append([]string(nil), e.updates...),
		notices: append([]string(nil), e.notices...),
		loading: append([]string(nil), e.loading...),
		idle:    append([]Outcome(nil), e.idle...),
	}
}

func userTurn(text string) Turn {
	return Turn{
		ConversationID: "conv-1",
		Model:          "llama3",
		Messages:       []llm.Message{{Role: model.RoleUser, Content: text}},
	}
}

func await(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not finish")
		return Outcome{}
	}
}

// =============================================================================
// OUTCOMES
// =============================================================================

func TestController_CompletedIsStoredOnce(t *testing.T) {
	client := &fakeClient{open: func(ctx context.Context, req llm.Request) (llm.Stream, error) {
		return &sliceStream{frags: []string{"Hel", "lo, ", "world!"}}, nil
	}}
	store := &memStore{}
	ev := &events{}
	c := New(fixed(client), store, Options{Hooks: ev.hooks()})

	o, err := c.Run(context.Background(), userTurn("hi"))
	require.NoError(t, err)

	assert.Equal(t, stream.Completed, o.Kind)
	assert.Equal(t, "Hello, world!", o.Text)
	require.NotNil(t, o.Reply)
	assert.True(t, o.Reply.IsComplete)
	assert.False(t, o.Reply.IsError)

	assert.Equal(t, []stored{{"conv-1", model.RoleAssistant, "Hello, world!"}}, store.all())

	got := ev.snapshot()
	assert.Equal(t, []State{Starting, Streaming, Completed, Idle}, got.states)
	require.NotEmpty(t, got.updates)
	assert.Equal(t, "Hello, world!", got.updates[len(got.updates)-1])
	assert.Len(t, got.idle, 1)
	assert.Equal(t, Idle, c.State())
}

func TestController_TransportErrorFails(t *testing.T) {
	client := &fakeClient{open: func(ctx context.Context, req llm.Request) (llm.Stream, error) {
		return &sliceStream{
			frags: []string{"partial"},
			err:   llm.Transport("fake", io.ErrUnexpectedEOF),
		}, nil
	}}
	store := &memStore{}
	ev := &events{}
	c := New(fixed(client), store, Options{Hooks: ev.hooks()})

	o, err := c.Run(context.Background(), userTurn("hi"))
	require.NoError(t, err)

	assert.Equal(t, stream.Failed, o.Kind)
	assert.Equal(t, "partial", o.Text)
	assert.True(t, errors.Is(o.Err, llm.ErrNetwork))
	assert.Equal(t, int32(1), client.cancels.Load(), "CancelStream runs exactly once during unwind")

	require.NotNil(t, o.Reply)
	assert.True(t, o.Reply.IsError)
	assert.True(t, strings.HasPrefix(o.Reply.Text, "Error: "))

	rows := store.all()
	require.Len(t, rows, 1)
	assert.Equal(t, o.Reply.Text, rows[0].text)

	got := ev.snapshot()
	require.NotEmpty(t, got.updates)
	assert.Equal(t, o.Reply.Text, got.updates[len(got.updates)-1])
	assert.Contains(t, got.states, Failed)
	assert.Len(t, got.idle, 1)
}

func TestController_ResolveFailureIsFailed(t *testing.T) {
	store := &memStore{}
	c := New(resolverFunc(func(id string) (llm.Client, error) {
		return nil, llm.NewError(llm.ErrorModelUnavailable, "", "unknown model "+id, nil)
	}), store, Options{})

	o, err := c.Run(context.Background(), userTurn("hi"))
	require.NoError(t, err)

	assert.Equal(t, stream.Failed, o.Kind)
	assert.True(t, llm.IsModelUnavailable(o.Err))
	require.Len(t, store.all(), 1)
	assert.True(t, strings.HasPrefix(store.all()[0].text, "Error: "))
}

func TestController_NoConversationSkipsStore(t *testing.T) {
	client := &fakeClient{open: func(ctx context.Context, req llm.Request) (llm.Stream, error) {
		return &sliceStream{frags: []string{"ok"}}, nil
	}}
	store := &memStore{}
	c := New(fixed(client), store, Options{})

	turn := userTurn("hi")
	turn.ConversationID = ""
	o, err := c.Run(context.Background(), turn)
	require.NoError(t, err)
	assert.Equal(t, stream.Completed, o.Kind)
	assert.Empty(t, store.all())
}

func TestController_PanicBecomesFailed(t *testing.T) {
	store := &memStore{}
	ev := &events{}
	c := New(resolverFunc(func(string) (llm.Client, error) {
		panic("boom")
	}), store, Options{Hooks: ev.hooks()})

	o, err := c.Run(context.Background(), userTurn("hi"))
	require.NoError(t, err)

	assert.Equal(t, stream.Failed, o.Kind)
	assert.Contains(t, o.Err.Error(), "boom")
	assert.Len(t, store.all(), 1)
	assert.Len(t, ev.snapshot().idle, 1)
	assert.Equal(t, Idle, c.State())
}

func TestController_PanickingHooksStillReachIdle(t *testing.T) {
	client := &fakeClient{open: func(ctx context.Context, req llm.Request) (llm.Stream, error) {
		return &sliceStream{frags: []string{"a", "b"}}, nil
	}}
	store := &memStore{}
	var idle atomic.Int32
	c := New(fixed(client), store, Options{Hooks: Hooks{
		OnUpdate: func(string) { panic("sink broke") },
		OnIdle: func(Outcome) {
			idle.Add(1)
			panic("idle broke")
		},
	}})

	done := make(chan Outcome, 1)
	go func() {
		o, err := c.Run(context.Background(), userTurn("hi"))
		assert.NoError(t, err)
		done <- o
	}()

	select {
	case o := <-done:
		assert.Equal(t, stream.Failed, o.Kind)
		assert.Contains(t, o.Err.Error(), "sink broke")
	case <-time.After(2 * time.Second):
		t.Fatal("turn never finished")
	}
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, int32(1), idle.Load())
	assert.Len(t, store.all(), 1, "the error line is stored once")

	// The controller accepts the next turn.
	ch, err := c.Start(context.Background(), userTurn("again"))
	require.NoError(t, err)
	<-ch
}

func TestController_ForwardsLoadingAndRequest(t *testing.T) {
	var seen llm.Request
	client := &fakeClient{open: func(ctx context.Context, req llm.Request) (llm.Stream, error) {
		seen = req
		req.NotifyLoading()
		return &sliceStream{frags: []string{"ok"}}, nil
	}}
	ev := &events{}
	c := New(fixed(client), nil, Options{Hooks: ev.hooks()})

	turn := userTurn("hi")
	turn.Style = "concise"
	turn.MaxTokens = 50
	_, err := c.Run(context.Background(), turn)
	require.NoError(t, err)

	assert.Equal(t, "llama3", seen.Model)
	assert.Equal(t, "concise", seen.Style)
	assert.Equal(t, 50, seen.MaxTokens)
	assert.Equal(t, turn.Messages, seen.Messages)
	assert.Equal(t, []string{"llama3"}, ev.snapshot().loading)
}

// =============================================================================
// CANCELLATION
// =============================================================================

// startBlocking starts a turn whose stream yields "par" and then blocks.
// It returns once the stream is open.
func startBlocking(t *testing.T, c *Controller, client *fakeClient) <-chan Outcome {
	t.Helper()
	opened := make(chan struct{})
	var once sync.Once
	client.open = func(ctx context.Context, req llm.Request) (llm.Stream, error) {
		defer once.Do(func() { close(opened) })
		return newBlockingStream(ctx, "par"), nil
	}
	ch, err := c.Start(context.Background(), userTurn("hi"))
	require.NoError(t, err)
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never opened")
	}
	return ch
}

func TestController_CancelDiscardsReply(t *testing.T) {
	client := &fakeClient{}
	store := &memStore{}
	ev := &events{}
	c := New(fixed(client), store, Options{Hooks: ev.hooks()})

	ch := startBlocking(t, c, client)
	assert.True(t, c.Cancel())

	o := await(t, ch)
	assert.Equal(t, stream.Cancelled, o.Kind)
	assert.True(t, llm.IsCancelled(o.Err))
	assert.Nil(t, o.Reply)
	assert.Empty(t, store.all(), "cancelled replies are not stored")
	assert.GreaterOrEqual(t, client.cancels.Load(), int32(1))

	got := ev.snapshot()
	assert.Equal(t, []string{StoppedNotice}, got.notices)
	assert.Len(t, got.idle, 1)
	assert.Equal(t, Idle, c.State())
}

func TestController_CancelWhileLoadingModel(t *testing.T) {
	loading := make(chan struct{})
	client := &fakeClient{open: func(ctx context.Context, req llm.Request) (llm.Stream, error) {
		// A backend warming a cold model: the load blocks until cancelled.
		req.NotifyLoading()
		close(loading)
		<-ctx.Done()
		return nil, llm.Transport("fake", ctx.Err())
	}}
	store := &memStore{}
	ev := &events{}
	c := New(fixed(client), store, Options{Hooks: ev.hooks()})

	ch, err := c.Start(context.Background(), userTurn("hi"))
	require.NoError(t, err)
	select {
	case <-loading:
	case <-time.After(2 * time.Second):
		t.Fatal("backend never started loading")
	}
	assert.Equal(t, Starting, c.State())

	assert.True(t, c.Cancel())
	var o Outcome
	select {
	case o = <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not end after Cancel during the load")
	}

	assert.Equal(t, stream.Cancelled, o.Kind)
	assert.Nil(t, o.Reply)
	assert.Empty(t, store.all())
	snap := ev.snapshot()
	assert.Equal(t, []string{"llama3"}, snap.loading)
	assert.Equal(t, []string{StoppedNotice}, snap.notices)
	assert.NotContains(t, snap.states, Streaming)
	assert.Equal(t, Idle, c.State())
}

func TestController_CancelWhenIdle(t *testing.T) {
	c := New(fixed(&fakeClient{}), nil, Options{})
	assert.False(t, c.Cancel())
	assert.False(t, c.Cancel())
}

func TestController_CancelConcurrently(t *testing.T) {
	client := &fakeClient{}
	ev := &events{}
	c := New(fixed(client), nil, Options{Hooks: ev.hooks()})

	ch := startBlocking(t, c, client)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Cancel()
		}()
	}
	wg.Wait()

	o := await(t, ch)
	assert.Equal(t, stream.Cancelled, o.Kind)
	assert.Len(t, ev.snapshot().idle, 1, "cleanup runs once per turn")
}

func TestController_BusyWhileTurnRuns(t *testing.T) {
	client := &fakeClient{}
	c := New(fixed(client), nil, Options{})

	ch := startBlocking(t, c, client)
	assert.True(t, c.Busy())

	_, err := c.Start(context.Background(), userTurn("again"))
	assert.ErrorIs(t, err, ErrBusy)

	c.Cancel()
	await(t, ch)
	assert.False(t, c.Busy())
}

func TestController_FreshTokenPerTurn(t *testing.T) {
	client := &fakeClient{}
	c := New(fixed(client), nil, Options{})

	ch := startBlocking(t, c, client)
	c.mu.Lock()
	first := c.token
	c.mu.Unlock()
	c.Cancel()
	require.Equal(t, stream.Cancelled, await(t, ch).Kind)
	require.True(t, first.Cancelled())

	client.open = func(ctx context.Context, req llm.Request) (llm.Stream, error) {
		return &sliceStream{frags: []string{"second"}}, nil
	}
	ch, err := c.Start(context.Background(), userTurn("again"))
	require.NoError(t, err)
	c.mu.Lock()
	second := c.token
	c.mu.Unlock()

	o := await(t, ch)
	assert.NotSame(t, first, second)
	assert.False(t, second.Cancelled())
	assert.Equal(t, stream.Completed, o.Kind)
	assert.Equal(t, "second", o.Text)
}

func TestController_ParentContextCancels(t *testing.T) {
	opened := make(chan struct{})
	client := &fakeClient{open: func(ctx context.Context, req llm.Request) (llm.Stream, error) {
		close(opened)
		return newBlockingStream(ctx, ""), nil
	}}
	c := New(fixed(client), nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Start(ctx, userTurn("hi"))
	require.NoError(t, err)
	<-opened
	cancel()

	o := await(t, ch)
	assert.Equal(t, stream.Cancelled, o.Kind)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "unknown", State(42).String())
}
