// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/stream"
)

// StoppedNotice is shown when the user cancels a turn.
const StoppedNotice = "Generation stopped by user"

// DefaultCancelWait bounds how long Cancel waits for the turn to unwind.
const DefaultCancelWait = 100 * time.Millisecond

// ErrBusy is returned by Start while a turn is in progress.
var ErrBusy = errors.New("generation already in progress")

// =============================================================================
// STATE
// =============================================================================

// State is the controller's lifecycle position.
type State int

const (
	Idle State = iota
	Starting
	Streaming
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
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

// Outcome is the terminal report of one turn. Exactly one is produced per
// Start.
//
// Text is the assembled reply: the full text on Completed, the partial
// text on Cancelled and Failed. Reply is the assistant turn as shown and
// stored; it is nil on Cancelled.
type Outcome struct {
	Kind  stream.Status
	Text  string
	Err   error
	Reply *model.Turn
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Resolver maps a model id to the backend that serves it.
// router.Selector implements it.
type Resolver interface {
	Resolve(modelID string) (llm.Client, error)
}

// Store persists finished replies. storage.Store implements it.
type Store interface {
	AppendMessage(ctx context.Context, conversationID string, role model.Role, text string) error
}

// Hooks are optional callbacks fired from the turn goroutine. They must
// not block; UIs forward them to their own event loop.
type Hooks struct {
	// OnState reports every state transition.
	OnState func(State)
	// OnLoading fires when a backend starts loading a cold model.
	OnLoading func(model string)
	// OnUpdate receives the full reply text on each flush, and the error
	// text when a turn fails.
	OnUpdate func(text string)
	// OnNotice receives transient status lines, such as StoppedNotice.
	OnNotice func(text string)
	// OnIdle runs once per turn after cleanup, whatever the outcome.
	OnIdle func(Outcome)
}

// Options tune a Controller.
type Options struct {
	Stream     stream.Config
	CancelWait time.Duration
	Hooks      Hooks
	Logger     *zap.Logger
}

// Turn is one request for an assistant reply.
type Turn struct {
	// ConversationID is where the reply is stored. Empty disables storage.
	ConversationID string
	Model          string
	Style          string
	// Messages is the conversation so far, ending with the new user message.
	Messages    []llm.Message
	Temperature float64
	MaxTokens   int
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs at most one turn at a time. It is safe for concurrent use.
type Controller struct {
	resolver Resolver
	store    Store
	opts     Options
	log      *zap.Logger

	mu     sync.Mutex
	state  State
	token  *stream.Token
	client llm.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle controller. store may be nil.
func New(resolver Resolver, store Store, opts Options) *Controller {
	if opts.CancelWait <= 0 {
		opts.CancelWait = DefaultCancelWait
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		resolver: resolver,
		store:    store,
		opts:     opts,
		log:      log.Named("generation"),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a turn is in progress.
func (c *Controller) Busy() bool {
	return c.State() != Idle
}

// SetHooks replaces the hooks used by later turns.
func (c *Controller) SetHooks(h Hooks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Hooks = h
}

// Start begins a turn and returns a channel that receives its Outcome and
// is then closed. It fails with ErrBusy unless the controller is idle.
func (c *Controller) Start(ctx context.Context, t Turn) (<-chan Outcome, error) {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	token := stream.NewToken()
	turnCtx, cancel := token.Context(ctx)
	done := make(chan struct{})

	c.state = Starting
	c.token = token
	c.client = nil
	c.cancel = cancel
	c.done = done
	hooks := c.opts.Hooks
	c.mu.Unlock()

	r := &turnRun{
		c:     c,
		turn:  t,
		token: token,
		reply: model.NewPlaceholder(),
		hooks: hooks,
		start: time.Now(),
	}
	r.state(Starting)

	out := make(chan Outcome, 1)
	go r.run(turnCtx, cancel, out, done)
	return out, nil
}

// Run starts a turn and waits for its outcome.
func (c *Controller) Run(ctx context.Context, t Turn) (Outcome, error) {
	ch, err := c.Start(ctx, t)
	if err != nil {
		return Outcome{}, err
	}
	return <-ch, nil
}

// Cancel stops the current turn: it sets the turn's token, aborts the
// backend stream, cancels the turn context, then waits briefly for the
// turn to reach Idle. It reports whether a turn was in progress. Safe to
// call from any goroutine, any number of times.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return false
	}
	token, client, cancel, done := c.token, c.client, c.cancel, c.done
	c.mu.Unlock()

	c.log.Debug("cancel requested")
	token.Cancel()
	if client != nil {
		client.CancelStream()
	}
	cancel()

	t := time.NewTimer(c.opts.CancelWait)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		c.log.Debug("turn still unwinding after cancel", zap.Duration("waited", c.opts.CancelWait))
	}
	return true
}

func (c *Controller) setClient(client llm.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = client
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// turnRun is the per-turn state owned by the turn goroutine.
type turnRun struct {
	c     *Controller
	turn  Turn
	token *stream.Token
	reply *model.Turn
	hooks Hooks
	start time.Time

	persisted bool
}

func (r *turnRun) run(ctx context.Context, cancel context.CancelFunc, out chan<- Outcome, done chan struct{}) {
	var o Outcome
	defer func() {
		if p := recover(); p != nil {
			r.c.log.Error("turn panicked", zap.Any("panic", p), zap.Stack("stack"))
			o = r.fail(ctx, "", fmt.Errorf("internal error: %v", p))
		}
		cancel()
		r.finish(o)
		close(done)
		out <- o
		close(out)
	}()
	o = r.execute(ctx)
}

func (r *turnRun) execute(ctx context.Context) Outcome {
	log := r.c.log
	log.Info("turn started", zap.String("model", r.turn.Model), zap.String("style", r.turn.Style))

	client, err := r.c.resolver.Resolve(r.turn.Model)
	if err != nil {
		return r.reconcile(ctx, stream.Result{Status: stream.Failed, Err: err})
	}
	r.c.setClient(client)

	src, err := client.Stream(ctx, llm.Request{
		Messages:    r.turn.Messages,
		Model:       r.turn.Model,
		Style:       r.turn.Style,
		Temperature: r.turn.Temperature,
		MaxTokens:   r.turn.MaxTokens,
		OnLoading:   r.hooks.OnLoading,
	})
	if err != nil {
		status := stream.Failed
		if r.token.Cancelled() || llm.IsCancelled(err) {
			status = stream.Cancelled
		}
		return r.reconcile(ctx, stream.Result{Status: status, Err: err})
	}

	r.state(Streaming)
	a := stream.NewAssembler(r.token, r.hooks.OnUpdate, r.c.opts.Stream, stream.WithLogger(log))
	return r.reconcile(ctx, a.Run(ctx, src, client))
}

// reconcile turns an assembler result into the Outcome and applies the
// storage policy for it.
func (r *turnRun) reconcile(ctx context.Context, res stream.Result) Outcome {
	switch res.Status {
	case stream.Completed:
		r.reply.Complete(res.Text)
		r.persist(ctx, res.Text)
		r.state(Completed)
		return Outcome{Kind: stream.Completed, Text: res.Text, Reply: r.reply}

	case stream.Cancelled:
		r.state(Cancelled)
		if r.hooks.OnNotice != nil {
			r.call("OnNotice", func() { r.hooks.OnNotice(StoppedNotice) })
		}
		err := res.Err
		if err == nil {
			err = llm.ErrCancelled
		}
		return Outcome{Kind: stream.Cancelled, Text: res.Text, Err: err}

	default:
		return r.fail(ctx, res.Text, res.Err)
	}
}

// fail replaces the reply with the error line, shows it and stores it.
func (r *turnRun) fail(ctx context.Context, partial string, err error) Outcome {
	msg := llm.UserMessage(err)
	r.reply.Fail(msg)
	if r.hooks.OnUpdate != nil {
		r.call("OnUpdate", func() { r.hooks.OnUpdate(msg) })
	}
	r.persist(ctx, msg)
	r.state(Failed)
	return Outcome{Kind: stream.Failed, Text: partial, Err: err, Reply: r.reply}
}

// persist stores the reply at most once per turn. The turn context may
// already be cancelled, so the write gets its own.
func (r *turnRun) persist(ctx context.Context, text string) {
	if r.persisted || r.c.store == nil || r.turn.ConversationID == "" {
		return
	}
	r.persisted = true
	if err := r.c.store.AppendMessage(context.WithoutCancel(ctx), r.turn.ConversationID, model.RoleAssistant, text); err != nil {
		r.c.log.Warn("storing reply failed",
			zap.String("conversation", r.turn.ConversationID),
			zap.Error(err))
	}
}

func (r *turnRun) state(s State) {
	r.c.setState(s)
	if r.hooks.OnState != nil {
		r.call("OnState", func() { r.hooks.OnState(s) })
	}
}

// call runs a hook and logs a panic from it instead of propagating it. A
// failing hook must not keep the controller from returning to Idle.
func (r *turnRun) call(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.c.log.Error("hook panicked", zap.String("hook", name), zap.Any("panic", p))
		}
	}()
	fn()
}

// finish returns the controller to Idle and runs the idle hook.
func (r *turnRun) finish(o Outcome) {
	r.c.mu.Lock()
	r.c.state = Idle
	r.c.client = nil
	r.c.cancel = nil
	r.c.mu.Unlock()

	r.c.log.Info("turn finished",
		zap.Stringer("outcome", o.Kind),
		zap.Duration("elapsed", time.Since(r.start)),
		zap.Int("chars", len(o.Text)))

	if r.hooks.OnState != nil {
		r.call("OnState", func() { r.hooks.OnState(Idle) })
	}
	if r.hooks.OnIdle != nil {
		r.call("OnIdle", func() { r.hooks.OnIdle(o) })
	}
}
