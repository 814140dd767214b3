// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/catalog"
	"github.com/jeranaias/termchat/internal/generation"
	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/session"
	"github.com/jeranaias/termchat/internal/stream"
	"github.com/jeranaias/termchat/internal/ui/styles"
)

// Status lines shown while a turn runs.
const (
	StatusThinking  = "Thinking..."
	StatusStreaming = "Generating..."
	StatusLoading   = "Preparing Ollama model..."
)

// Layout constants.
const (
	headerHeight = 1
	statusHeight = 1
	footerHeight = 1
	inputHeight  = 3
	// inputChrome is the input's top border.
	inputChrome = 1
	minWidth    = 20
)

// Options are the chat view's collaborators.
type Options struct {
	Session    *session.Session
	Controller *generation.Controller

	// Catalog and Refresher back /models; both may be nil.
	Catalog   *catalog.Catalog
	Refresher *catalog.Refresher

	// Styles lists the style ids /style accepts.
	Styles []string
	// KindOf names the provider serving a model, for the footer badge.
	KindOf func(modelID string) (llm.Kind, bool)
	// MaxTokens returns the output limit configured for a model.
	MaxTokens func(modelID string) int

	Theme          *styles.Theme
	ShowTimestamps bool
	Logger         *zap.Logger
}

// Model is the Bubble Tea model of the chat view.
type Model struct {
	opts  Options
	theme *styles.Theme
	keys  KeyMap
	log   *zap.Logger

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	help     help.Model

	renderer *renderer
	bridge   *bridge

	width  int
	height int
	ready  bool

	busy   bool
	phase  generation.State
	status string
	notice string
	errMsg string

	// started is set once the controller reports the turn; until then a
	// cancel is held in cancelPending.
	started       bool
	cancelPending bool

	// info is a panel shown below the transcript until the next message.
	info       string
	wantModels bool
	quitting   bool
}

// New creates the chat model and routes the controller's hooks into it.
func New(opts Options) Model {
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme("auto")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxTokens == nil {
		opts.MaxTokens = func(string) int { return 0 }
	}

	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline = DefaultKeyMap().Newline
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = opts.Theme.Spinner

	h := help.New()
	h.Styles.ShortKey = opts.Theme.ShortcutKey
	h.Styles.ShortDesc = opts.Theme.ShortcutDesc
	h.Styles.FullKey = opts.Theme.ShortcutKey
	h.Styles.FullDesc = opts.Theme.ShortcutDesc

	b := &bridge{}
	if opts.Controller != nil {
		opts.Controller.SetHooks(b.hooks())
	}

	return Model{
		opts:     opts,
		theme:    opts.Theme,
		keys:     DefaultKeyMap(),
		log:      opts.Logger.Named("chat"),
		viewport: viewport.New(80, 20),
		input:    ta,
		spinner:  sp,
		help:     h,
		renderer: newRenderer(opts.Theme.GlamourStyle()),
		bridge:   b,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Busy reports whether a reply is in progress.
func (m Model) Busy() bool { return m.busy }

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd

	case StateMsg:
		m.phase = msg.State
		switch msg.State {
		case generation.Starting:
			m.started = true
			if m.cancelPending {
				m.cancelPending = false
				return m, m.cancelCmd()
			}
			m.status = StatusThinking
		case generation.Streaming:
			if m.status != StatusLoading {
				m.status = StatusStreaming
			}
		}
		return m, nil

	case LoadingMsg:
		m.status = StatusLoading
		m.refresh()
		return m, nil

	case StreamUpdateMsg:
		if m.status == StatusLoading {
			m.status = StatusStreaming
		}
		m.opts.Session.Apply(msg.Text)
		m.refresh()
		return m, nil

	case NoticeMsg:
		m.notice = msg.Text
		return m, nil

	case TurnDoneMsg:
		return m, m.finishTurn(msg.Outcome)

	case startFailedMsg:
		m.busy = false
		m.cancelPending = false
		m.status = ""
		m.opts.Session.Abort()
		m.errMsg = llm.UserMessage(msg.err)
		m.refresh()
		return m, nil

	case TitleMsg:
		if msg.Err != nil {
			m.log.Warn("title generation failed", zap.Error(msg.Err))
		}
		return m, nil

	case ModelsMsg:
		if m.wantModels {
			m.info = formatModels(msg.Entries, m.opts.Session.Model())
			m.refresh()
		}
		return m, nil
	}

	// Remaining input goes to the textarea and the viewport.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if m.busy {
			return tea.Sequence(m.cancelCmd(), tea.Quit), true
		}
		return tea.Quit, true

	case key.Matches(msg, m.keys.Cancel):
		if m.busy && !m.started {
			m.cancelPending = true
			return nil, true
		}
		if m.busy {
			return m.cancelCmd(), true
		}
		m.info = ""
		m.notice = ""
		m.errMsg = ""
		m.wantModels = false
		m.refresh()
		return nil, true

	case key.Matches(msg, m.keys.Submit):
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return nil, true
		}
		var cmd tea.Cmd
		if strings.HasPrefix(strings.TrimSpace(text), "/") {
			cmd = m.runCommand(strings.TrimSpace(text))
		} else {
			cmd = m.submit(text)
		}
		return cmd, true

	case key.Matches(msg, m.keys.New):
		m.newConversation()
		return nil, true

	case key.Matches(msg, m.keys.Help):
		m.showHelp()
		return nil, true

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return nil, true

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return nil, true
	}
	return nil, false
}

// submit sends a message. The input is kept when the message cannot be
// sent so it is not lost.
func (m *Model) submit(text string) tea.Cmd {
	if m.busy {
		m.notice = "Wait for the current reply, or press Esc to stop it"
		return nil
	}

	turn, err := m.opts.Session.Begin(context.Background(), text)
	if err != nil {
		if !errors.Is(err, session.ErrEmptyPrompt) {
			m.errMsg = llm.UserMessage(err)
		}
		return nil
	}

	m.input.Reset()
	m.busy = true
	m.started = false
	m.cancelPending = false
	m.phase = generation.Starting
	m.status = StatusThinking
	m.notice = ""
	m.errMsg = ""
	m.info = ""
	m.wantModels = false
	m.refreshFollow(true)

	return tea.Batch(m.spinner.Tick, startTurn(m.opts.Controller, turn))
}

func startTurn(ctrl *generation.Controller, turn generation.Turn) tea.Cmd {
	return func() tea.Msg {
		if _, err := ctrl.Start(context.Background(), turn); err != nil {
			return startFailedMsg{err: err}
		}
		return nil
	}
}

// cancelCmd stops the running turn off the update loop: Cancel waits for
// the turn to unwind, and the turn's hooks need the loop to drain.
func (m *Model) cancelCmd() tea.Cmd {
	ctrl := m.opts.Controller
	return func() tea.Msg {
		ctrl.Cancel()
		return nil
	}
}

func (m *Model) finishTurn(o generation.Outcome) tea.Cmd {
	m.busy = false
	m.started = false
	m.cancelPending = false
	m.status = ""
	m.phase = generation.Idle

	needTitle := m.opts.Session.Finish(o)
	switch o.Kind {
	case stream.Cancelled:
		m.notice = generation.StoppedNotice
	case stream.Failed:
		if o.Reply != nil {
			m.errMsg = o.Reply.Text
		} else {
			m.errMsg = llm.UserMessage(o.Err)
		}
	}
	m.refresh()

	if !needTitle {
		return nil
	}
	sess := m.opts.Session
	return func() tea.Msg {
		title, err := sess.GenerateTitle(context.Background())
		return TitleMsg{Title: title, Err: err}
	}
}

func (m *Model) newConversation() {
	if m.busy {
		m.notice = "Stop the current reply before starting a new conversation"
		return
	}
	m.opts.Session.Reset()
	m.renderer.clear()
	m.info = ""
	m.errMsg = ""
	m.wantModels = false
	m.notice = "Started a new conversation"
	m.refreshFollow(true)
}

func (m *Model) showHelp() {
	m.info = m.help.FullHelpView(m.keys.FullHelp()) + "\n\n" + commandHelp
	m.refreshFollow(true)
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) resize(width, height int) {
	if width < minWidth {
		width = minWidth
	}
	m.width = width
	m.height = height
	m.help.Width = width

	vpHeight := height - headerHeight - statusHeight - inputHeight - inputChrome - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = width
	m.viewport.Height = vpHeight
	m.input.SetWidth(width)
	m.renderer.setWidth(width - 4)
	m.ready = true
	m.refreshFollow(true)
}

// refresh re-renders the transcript, keeping the scroll position unless
// the view was already at the bottom.
func (m *Model) refresh() {
	m.refreshFollow(m.viewport.AtBottom())
}

func (m *Model) refreshFollow(follow bool) {
	m.viewport.SetContent(m.renderTranscript())
	if follow {
		m.viewport.GotoBottom()
	}
}

// renderer renders finished replies as Markdown, caching by turn id.
type renderer struct {
	style string
	width int
	term  *glamour.TermRenderer
	cache map[string]string
}

func newRenderer(style string) *renderer {
	return &renderer{style: style, width: 76, cache: make(map[string]string)}
}

func (r *renderer) setWidth(w int) {
	if w < minWidth {
		w = minWidth
	}
	if w == r.width && r.term != nil {
		return
	}
	r.width = w
	r.term = nil
	r.clear()
}

func (r *renderer) clear() {
	r.cache = make(map[string]string)
}

// render returns the Markdown rendering of text, or text unchanged when
// rendering fails.
func (r *renderer) render(id, text string) string {
	if out, ok := r.cache[id]; ok {
		return out
	}
	if r.term == nil {
		term, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(r.width),
		)
		if err != nil {
			return text
		}
		r.term = term
	}
	out, err := r.term.Render(text)
	if err != nil {
		return text
	}
	out = strings.Trim(out, "\n")
	r.cache[id] = out
	return out
}
