// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/generation"
	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/storage"
	"github.com/jeranaias/termchat/internal/stream"
)

// ErrEmptyPrompt is returned by Begin for blank input.
var ErrEmptyPrompt = errors.New("empty message")

// Store is the part of storage.Store a session uses.
type Store interface {
	CreateConversation(ctx context.Context, title, modelID, style string) (string, error)
	AppendMessage(ctx context.Context, id string, role model.Role, text string) error
	UpdateTitle(ctx context.Context, id, title string) error
	GetConversation(ctx context.Context, id string) (*storage.Conversation, error)
}

// Titler names conversations. title.Generator implements it.
type Titler interface {
	Generate(ctx context.Context, c llm.Completer, modelID, firstMessage string) string
}

// Config holds per-session settings.
type Config struct {
	Model       string
	Style       string
	AutoSave    bool
	MaxTokens   int
	Temperature float64
}

// Session is one conversation in progress. It is safe for concurrent use.
type Session struct {
	store    Store
	resolver generation.Resolver
	titles   Titler
	log      *zap.Logger

	mu         sync.Mutex
	cfg        Config
	transcript *model.Transcript
	replyID    string
	titled     bool
}

// New creates a session with an empty transcript. store and titles may be
// nil.
func New(store Store, resolver generation.Resolver, titles Titler, cfg Config, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		store:      store,
		resolver:   resolver,
		titles:     titles,
		log:        log.Named("session"),
		cfg:        cfg,
		transcript: model.NewTranscript("", cfg.Model, cfg.Style),
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Transcript returns the live transcript.
func (s *Session) Transcript() *model.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// ConversationID returns the stored conversation id, or "" before the
// first message is saved.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.ConversationID
}

// Title returns the conversation title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Title
}

// Model returns the model used for the next turn.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Model
}

// Style returns the style used for the next turn.
func (s *Session) Style() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Style
}

// SetModel switches the model for later turns.
func (s *Session) SetModel(id string, maxTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Model = id
	s.cfg.MaxTokens = maxTokens
	s.transcript.Model = id
}

// SetStyle switches the style for later turns.
func (s *Session) SetStyle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Style = id
	s.transcript.Style = id
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Reset starts a new, unsaved conversation.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = model.NewTranscript("", s.cfg.Model, s.cfg.Style)
	s.replyID = ""
	s.titled = false
}

// Resume loads a stored conversation into the transcript. The session
// keeps its own model and style unless they are empty.
func (s *Session) Resume(ctx context.Context, id string) error {
	if s.store == nil {
		return errors.New("conversation history is not available")
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Model == "" {
		s.cfg.Model = conv.Model
	}
	if s.cfg.Style == "" {
		s.cfg.Style = conv.Style
	}
	tr := model.NewTranscript(conv.ID, s.cfg.Model, s.cfg.Style)
	tr.Title = conv.Title
	tr.CreatedAt = conv.CreatedAt
	for _, t := range conv.Turns() {
		t := t
		tr.Append(&t)
	}
	s.transcript = tr
	s.replyID = ""
	s.titled = conv.Title != ""
	return nil
}

// Begin records a user message and returns the turn to hand to the
// controller. The user message is stored before the reply starts; a
// storage failure is logged and the conversation continues unsaved.
func (s *Session) Begin(ctx context.Context, prompt string) (generation.Turn, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return generation.Turn{}, ErrEmptyPrompt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	convID := s.ensureConversationLocked(ctx)
	if convID != "" {
		if err := s.store.AppendMessage(ctx, convID, model.RoleUser, prompt); err != nil {
			s.log.Warn("storing user message failed", zap.Error(err))
		}
	}

	s.transcript.Append(model.NewTurn(model.RoleUser, prompt))
	history := llm.FromTurns(s.transcript.History())
	s.replyID = s.transcript.Append(model.NewPlaceholder()).ID

	return generation.Turn{
		ConversationID: convID,
		Model:          s.cfg.Model,
		Style:          s.cfg.Style,
		Messages:       history,
		Temperature:    s.cfg.Temperature,
		MaxTokens:      s.cfg.MaxTokens,
	}, nil
}

func (s *Session) ensureConversationLocked(ctx context.Context) string {
	if s.transcript.ConversationID != "" || s.store == nil || !s.cfg.AutoSave {
		return s.transcript.ConversationID
	}
	id, err := s.store.CreateConversation(ctx, "", s.cfg.Model, s.cfg.Style)
	if err != nil {
		s.log.Warn("creating conversation failed", zap.Error(err))
		return ""
	}
	s.transcript.ConversationID = id
	return id
}

// ReplyID returns the id of the placeholder the current reply streams
// into, or "" when no turn is in progress.
func (s *Session) ReplyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyID
}

// Apply shows streamed text in the reply placeholder.
func (s *Session) Apply(text string) {
	s.mu.Lock()
	id, tr := s.replyID, s.transcript
	s.mu.Unlock()
	if id == "" {
		return
	}
	tr.Update(id, func(t *model.Turn) { t.SetText(text) })
}

// Abort drops the reply placeholder of a turn that never started.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replyID != "" {
		s.transcript.Remove(s.replyID)
		s.replyID = ""
	}
}

// Finish reconciles the transcript with a turn's outcome: a completed
// reply is finalized, a cancelled one removed, a failed one replaced by its
// error line. It reports whether the conversation should now be titled.
func (s *Session) Finish(o generation.Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.replyID
	s.replyID = ""
	if id == "" {
		return false
	}

	switch o.Kind {
	case stream.Completed:
		s.transcript.Update(id, func(t *model.Turn) { t.Complete(o.Text) })
	case stream.Cancelled:
		s.transcript.Remove(id)
		return false
	default:
		msg := llm.UserMessage(o.Err)
		if o.Reply != nil {
			msg = o.Reply.Text
		}
		s.transcript.Update(id, func(t *model.Turn) { t.Fail(msg) })
		return false
	}

	return !s.titled && s.titles != nil && s.transcript.ConversationID != ""
}

// Settle finishes a turn whose reply came from a single completion rather
// than the controller. The reply, or its error line on failure, is stored
// the way the controller stores streamed replies; a cancelled turn stores
// nothing. The result is Finish's.
func (s *Session) Settle(ctx context.Context, text string, err error) bool {
	o := generation.Outcome{Kind: stream.Completed, Text: text}
	stored := text
	switch {
	case llm.IsCancelled(err):
		o = generation.Outcome{Kind: stream.Cancelled, Err: err}
		stored = ""
	case err != nil:
		o = generation.Outcome{Kind: stream.Failed, Err: err}
		stored = llm.UserMessage(err)
	}

	s.mu.Lock()
	convID, pending := s.transcript.ConversationID, s.replyID != ""
	s.mu.Unlock()

	if pending && stored != "" && s.store != nil && convID != "" {
		if serr := s.store.AppendMessage(context.WithoutCancel(ctx), convID, model.RoleAssistant, stored); serr != nil {
			s.log.Warn("storing reply failed", zap.Error(serr))
		}
	}
	return s.Finish(o)
}

// GenerateTitle names the conversation from its first user message and
// stores the title. It runs at most once per conversation.
func (s *Session) GenerateTitle(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.titled || s.titles == nil {
		title := s.transcript.Title
		s.mu.Unlock()
		return title, nil
	}
	s.titled = true
	convID, modelID := s.transcript.ConversationID, s.cfg.Model
	first := ""
	for _, t := range s.transcript.Turns() {
		if t.Role == model.RoleUser {
			first = t.Text
			break
		}
	}
	tr := s.transcript
	s.mu.Unlock()

	client, err := s.resolver.Resolve(modelID)
	if err != nil {
		return "", err
	}
	title := s.titles.Generate(ctx, client, modelID, first)

	if s.store != nil && convID != "" {
		if err := s.store.UpdateTitle(ctx, convID, title); err != nil {
			return title, err
		}
	}

	s.mu.Lock()
	if s.transcript == tr {
		tr.Title = title
	}
	s.mu.Unlock()
	return title, nil
}
