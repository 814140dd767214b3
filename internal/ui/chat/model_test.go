// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/generation"
	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/session"
	"github.com/jeranaias/termchat/internal/stream"
	"github.com/jeranaias/termchat/internal/ui/styles"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeClient struct {
	open func(ctx context.Context, req llm.Request, abort <-chan struct{}) (llm.Stream, error)

	mu    sync.Mutex
	abort chan struct{}
}

func (f *fakeClient) Kind() llm.Kind { return llm.KindOllama }
func (f *fakeClient) Complete(context.Context, llm.Request) (string, error) {
	return "", errors.New("unused")
}
func (f *fakeClient) ListModels(context.Context) []llm.ModelInfo { return nil }

func (f *fakeClient) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	f.mu.Lock()
	f.abort = make(chan struct{})
	abort := f.abort
	f.mu.Unlock()
	return f.open(ctx, req, abort)
}

func (f *fakeClient) CancelStream() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.abort != nil {
		close(f.abort)
		f.abort = nil
	}
}

type resolverFunc func(string) (llm.Client, error)

func (f resolverFunc) Resolve(id string) (llm.Client, error) { return f(id) }

// fragments streams frags, then ends with err.
func fragments(err error, frags ...string) func(context.Context, llm.Request, <-chan struct{}) (llm.Stream, error) {
	return func(context.Context, llm.Request, <-chan struct{}) (llm.Stream, error) {
		i := 0
		return llm.NewStream(func() (string, bool, error) {
			if i < len(frags) {
				i++
				return frags[i-1], false, nil
			}
			return "", err == nil, err
		}, nil), nil
	}
}

// blocking streams first, then waits for an abort or the context.
func blocking(first string) func(context.Context, llm.Request, <-chan struct{}) (llm.Stream, error) {
	return func(ctx context.Context, req llm.Request, abort <-chan struct{}) (llm.Stream, error) {
		req.NotifyLoading()
		sent := false
		return llm.NewStream(func() (string, bool, error) {
			if !sent {
				sent = true
				return first, false, nil
			}
			select {
			case <-abort:
				return "", false, llm.NewError(llm.ErrorCancelled, "fake", "stream aborted", nil)
			case <-ctx.Done():
				return "", false, llm.Transport("fake", ctx.Err())
			}
		}, nil), nil
	}
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	t    *testing.T
	m    Model
	msgs chan tea.Msg
	sess *session.Session
	ctrl *generation.Controller
}

func newHarness(t *testing.T, client *fakeClient) *harness {
	t.Helper()
	res := resolverFunc(func(string) (llm.Client, error) { return client, nil })
	sess := session.New(nil, res, nil, session.Config{Model: "llama3", Style: "default"}, nil)
	ctrl := generation.New(res, nil, generation.Options{Stream: stream.DefaultConfig()})

	h := &harness{
		t:    t,
		msgs: make(chan tea.Msg, 256),
		sess: sess,
		ctrl: ctrl,
	}
	h.m = New(Options{
		Session:    sess,
		Controller: ctrl,
		Styles:     []string{"default", "concise"},
		KindOf:     func(string) (llm.Kind, bool) { return llm.KindOllama, true },
		Theme:      styles.NewTheme("dark"),
	})
	h.m.bridge.set(func(msg tea.Msg) { h.msgs <- msg })
	t.Cleanup(func() { ctrl.Cancel() })

	h.update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return h
}

func (h *harness) update(msg tea.Msg) tea.Cmd {
	next, cmd := h.m.Update(msg)
	h.m = next.(Model)
	return cmd
}

// exec runs cmd, one level of batches deep, and feeds the results back.
func (h *harness) exec(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			if c != nil {
				if m := c(); m != nil {
					h.update(m)
				}
			}
		}
		return
	}
	if msg != nil {
		h.update(msg)
	}
}

func (h *harness) typeAndSend(text string) {
	h.m.input.SetValue(text)
	h.exec(h.update(tea.KeyMsg{Type: tea.KeyEnter}))
}

// pumpUntil feeds forwarded messages into the model until stop matches.
func (h *harness) pumpUntil(stop func(tea.Msg) bool) {
	h.t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg := <-h.msgs:
			h.exec(h.update(msg))
			if stop(msg) {
				return
			}
		case <-timeout:
			h.t.Fatal("timed out waiting for message")
		}
	}
}

func (h *harness) waitDone() generation.Outcome {
	var o generation.Outcome
	h.pumpUntil(func(msg tea.Msg) bool {
		done, ok := msg.(TurnDoneMsg)
		if ok {
			o = done.Outcome
		}
		return ok
	})
	return o
}

var ansi = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

func (h *harness) plainView() string {
	return ansi.ReplaceAllString(h.m.View(), "")
}

// =============================================================================
// GENERATION
// =============================================================================

func TestChat_CompletedReply(t *testing.T) {
	h := newHarness(t, &fakeClient{open: fragments(nil, "Hello", ", ", "world!")})

	h.typeAndSend("hi")
	assert.True(t, h.m.Busy())
	assert.Empty(t, h.m.input.Value(), "input is cleared on send")

	o := h.waitDone()
	assert.Equal(t, stream.Completed, o.Kind)
	assert.False(t, h.m.Busy())

	turns := h.sess.Transcript().Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "hi", turns[0].Text)
	assert.Equal(t, "Hello, world!", turns[1].Text)
	assert.True(t, turns[1].IsComplete)

	view := h.plainView()
	assert.Contains(t, view, "world!")
	assert.Contains(t, view, "llama3")
	assert.NotContains(t, view, StatusThinking)
}

func TestChat_ShowsThinkingUntilFirstText(t *testing.T) {
	client := &fakeClient{open: blocking("partial")}
	h := newHarness(t, client)

	h.typeAndSend("hi")
	assert.Contains(t, h.plainView(), StatusThinking)
}

func TestChat_LoadingStatus(t *testing.T) {
	h := newHarness(t, &fakeClient{open: blocking("partial")})

	h.typeAndSend("hi")
	h.pumpUntil(func(msg tea.Msg) bool { _, ok := msg.(LoadingMsg); return ok })
	assert.Contains(t, h.plainView(), StatusLoading)
}

func TestChat_CancelDiscardsReply(t *testing.T) {
	h := newHarness(t, &fakeClient{open: blocking("partial")})

	h.typeAndSend("hi")
	h.pumpUntil(func(msg tea.Msg) bool {
		s, ok := msg.(StateMsg)
		return ok && s.State == generation.Streaming
	})

	h.exec(h.update(tea.KeyMsg{Type: tea.KeyEsc}))
	o := h.waitDone()

	assert.Equal(t, stream.Cancelled, o.Kind)
	assert.False(t, h.m.Busy())
	turns := h.sess.Transcript().Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, model.RoleUser, turns[0].Role)
	assert.Contains(t, h.plainView(), generation.StoppedNotice)
}

func TestChat_CancelBeforeTurnStarts(t *testing.T) {
	h := newHarness(t, &fakeClient{open: blocking("partial")})

	// Esc lands before the command that starts the turn has run.
	h.m.input.SetValue("hi")
	start := h.update(tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, h.m.Busy())
	assert.Nil(t, h.update(tea.KeyMsg{Type: tea.KeyEsc}), "nothing to cancel yet")
	assert.True(t, h.m.cancelPending)

	h.exec(start)
	o := h.waitDone()

	assert.Equal(t, stream.Cancelled, o.Kind)
	assert.False(t, h.m.Busy())
	assert.False(t, h.m.cancelPending)
	require.Len(t, h.sess.Transcript().Turns(), 1)
	assert.Contains(t, h.plainView(), generation.StoppedNotice)
}

func TestChat_FailureShowsError(t *testing.T) {
	boom := llm.Transport("ollama", errors.New("connection refused"))
	h := newHarness(t, &fakeClient{open: fragments(boom, "partial")})

	h.typeAndSend("hi")
	o := h.waitDone()

	assert.Equal(t, stream.Failed, o.Kind)
	turns := h.sess.Transcript().Turns()
	require.Len(t, turns, 2)
	assert.True(t, turns[1].IsError)
	assert.Contains(t, turns[1].Text, "Error: ")
	assert.Contains(t, h.plainView(), "Error: ")
}

func TestChat_SubmitWhileBusyKeepsInput(t *testing.T) {
	h := newHarness(t, &fakeClient{open: blocking("partial")})

	h.typeAndSend("first")
	h.m.input.SetValue("second")
	h.exec(h.update(tea.KeyMsg{Type: tea.KeyEnter}))

	assert.Equal(t, "second", h.m.input.Value())
	assert.Len(t, h.sess.Transcript().Turns(), 2)
}

func TestChat_EmptyInputIgnored(t *testing.T) {
	h := newHarness(t, &fakeClient{open: fragments(nil, "x")})

	h.typeAndSend("   ")
	assert.False(t, h.m.Busy())
	assert.Zero(t, h.sess.Transcript().Len())
}

func TestChat_EscWhenIdleClearsNotice(t *testing.T) {
	h := newHarness(t, &fakeClient{open: fragments(nil, "x")})
	h.m.notice = "something"

	cmd := h.update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, cmd)
	assert.Empty(t, h.m.notice)
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestCommands_Style(t *testing.T) {
	h := newHarness(t, &fakeClient{open: fragments(nil, "x")})

	h.typeAndSend("/style poetic")
	assert.Contains(t, h.m.errMsg, "Unknown style")
	assert.Equal(t, "default", h.sess.Style())
	assert.Equal(t, "/style poetic", h.m.input.Value(), "refused commands keep the input")

	h.typeAndSend("/style concise")
	assert.Equal(t, "concise", h.sess.Style())
	assert.Empty(t, h.m.input.Value())
}

func TestCommands_Model(t *testing.T) {
	h := newHarness(t, &fakeClient{open: fragments(nil, "x")})

	h.typeAndSend("/model gpt-4o")
	assert.Equal(t, "gpt-4o", h.sess.Model())
	assert.Contains(t, h.m.notice, "gpt-4o")
}

func TestCommands_NewResetsTranscript(t *testing.T) {
	h := newHarness(t, &fakeClient{open: fragments(nil, "ok")})

	h.typeAndSend("hi")
	h.waitDone()
	require.Equal(t, 2, h.sess.Transcript().Len())

	h.typeAndSend("/new")
	assert.Zero(t, h.sess.Transcript().Len())
}

func TestCommands_ModelsWithoutCatalog(t *testing.T) {
	h := newHarness(t, &fakeClient{open: fragments(nil, "x")})

	h.typeAndSend("/models")
	assert.Contains(t, h.plainView(), "No models available")
}

func TestCommands_Unknown(t *testing.T) {
	h := newHarness(t, &fakeClient{open: fragments(nil, "x")})

	h.typeAndSend("/bogus")
	assert.Contains(t, h.m.errMsg, "Unknown command: /bogus")
}

func TestCommands_Help(t *testing.T) {
	h := newHarness(t, &fakeClient{open: fragments(nil, "x")})

	h.typeAndSend("/help")
	view := h.plainView()
	assert.Contains(t, view, "/model [id]")
	assert.Contains(t, view, "new chat")
}
