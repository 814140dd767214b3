// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/anthropic"
	"github.com/jeranaias/termchat/internal/compat"
	"github.com/jeranaias/termchat/internal/config"
	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/ollama"
	"github.com/jeranaias/termchat/internal/openai"
)

// ErrProviderUnavailable is matched by errors returned when the backend a
// model needs is not usable (no API key, server not running).
var ErrProviderUnavailable = errors.New("provider unavailable")

// UnavailableError names the backend that could not be used.
type UnavailableError struct {
	Kind  llm.Kind
	Model string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s is not available for model %s", e.Kind, e.Model)
}

// Is matches ErrProviderUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// =============================================================================
// KIND SELECTION
// =============================================================================

var (
	ollamaPrefixes    = []string{"llama", "mistral", "codellama", "gemma"}
	openAIPrefixes    = []string{"gpt", "text-", "davinci", "o1", "o3"}
	anthropicPrefixes = []string{"claude", "anthropic"}
)

// InferKind guesses the backend from a model name alone.
func InferKind(modelID string) (llm.Kind, bool) {
	id := strings.ToLower(strings.TrimSpace(modelID))
	switch {
	case hasAnyPrefix(id, anthropicPrefixes):
		return llm.KindAnthropic, true
	case hasAnyPrefix(id, openAIPrefixes):
		return llm.KindOpenAI, true
	case hasAnyPrefix(id, ollamaPrefixes), strings.Contains(id, ":"):
		return llm.KindOllama, true
	}
	return 0, false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// KindFor picks the backend for modelID. It fails with a
// ModelUnavailable *llm.Error when no rule matches and with
// ErrProviderUnavailable when the backend is not usable.
func KindFor(snap config.Snapshot, modelID string) (llm.Kind, error) {
	kind, err := kindFor(snap, modelID)
	if err != nil {
		return 0, err
	}
	if !snap.Available(kind) {
		return 0, &UnavailableError{Kind: kind, Model: modelID}
	}
	return kind, nil
}

func kindFor(snap config.Snapshot, modelID string) (llm.Kind, error) {
	if m, ok := snap.AvailableModels[modelID]; ok && m.Provider != "" {
		kind, err := llm.ParseKind(m.Provider)
		if err != nil {
			return 0, llm.NewError(llm.ErrorModelUnavailable, "", "model "+modelID+" has an unknown provider", err)
		}
		return kind, nil
	}
	for _, id := range snap.CompatibleModels {
		if id == modelID {
			return llm.KindOpenAICompatible, nil
		}
	}
	if kind, ok := InferKind(modelID); ok {
		return kind, nil
	}
	return 0, llm.NewError(llm.ErrorModelUnavailable, "", "no provider serves model "+modelID, nil)
}

// =============================================================================
// CLIENT CONSTRUCTION
// =============================================================================

// New builds the client for kind from cfg.
func New(kind llm.Kind, cfg *config.Config, log *zap.Logger) (llm.Client, error) {
	p := cfg.Providers
	switch kind {
	case llm.KindOpenAI:
		return openai.New(openai.Config{
			APIKey:        p.OpenAI.APIKey,
			BaseURL:       p.OpenAI.BaseURL,
			Organization:  p.OpenAI.Organization,
			HeaderTimeout: seconds(p.OpenAI.HeaderTimeoutSecs),
		}, log), nil
	case llm.KindAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:        p.Anthropic.APIKey,
			BaseURL:       p.Anthropic.BaseURL,
			Version:       p.Anthropic.Version,
			MaxTokens:     p.Anthropic.MaxTokens,
			HeaderTimeout: seconds(p.Anthropic.HeaderTimeoutSecs),
		}, log), nil
	case llm.KindOllama:
		return ollama.New(ollama.Config{
			BaseURL:        p.Ollama.BaseURL,
			KeepAlive:      p.Ollama.KeepAlive,
			ProbeTimeout:   time.Duration(p.Ollama.ProbeTimeoutMs) * time.Millisecond,
			LoadTimeout:    seconds(p.Ollama.LoadTimeoutSecs),
			HeaderTimeout:  seconds(p.Ollama.HeaderTimeoutSecs),
			FallbackModels: p.Ollama.Models,
		}, log), nil
	case llm.KindOpenAICompatible:
		return compat.New(compat.Config{
			BaseURL:       p.Compatible.BaseURL,
			APIKey:        p.Compatible.APIKey,
			HeaderTimeout: seconds(p.Compatible.HeaderTimeoutSecs),
			Models:        p.Compatible.Models,
		}, log), nil
	}
	return nil, fmt.Errorf("unknown provider kind %d", int(kind))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// =============================================================================
// SELECTOR
// =============================================================================

// Selector resolves model ids to clients. Clients are cached per kind
// because each owns the single stream slot that cancellation targets.
type Selector struct {
	mu      sync.Mutex
	cfg     *config.Config
	snap    config.Snapshot
	clients map[llm.Kind]llm.Client
	log     *zap.Logger

	// build is New, replaceable in tests.
	build func(llm.Kind, *config.Config, *zap.Logger) (llm.Client, error)
}

// NewSelector creates a selector over cfg with availability from snap.
func NewSelector(cfg *config.Config, snap config.Snapshot, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{
		cfg:     cfg,
		snap:    snap,
		clients: make(map[llm.Kind]llm.Client),
		log:     log,
		build:   New,
	}
}

// Update swaps in a reloaded configuration. Cached clients are dropped;
// a turn already holding one keeps using it.
func (s *Selector) Update(cfg *config.Config, snap config.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.snap = snap
	s.clients = make(map[llm.Kind]llm.Client)
}

// Snapshot returns the snapshot the selector is working from.
func (s *Selector) Snapshot() config.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Resolve returns the client for modelID.
func (s *Selector) Resolve(modelID string) (llm.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, err := KindFor(s.snap, modelID)
	if err != nil {
		return nil, err
	}
	return s.clientLocked(kind)
}

// Client returns the cached client for kind regardless of availability.
// The catalog uses it to list models.
func (s *Selector) Client(kind llm.Kind) (llm.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientLocked(kind)
}

func (s *Selector) clientLocked(kind llm.Kind) (llm.Client, error) {
	if c, ok := s.clients[kind]; ok {
		return c, nil
	}
	c, err := s.build(kind, s.cfg, s.log)
	if err != nil {
		return nil, err
	}
	s.log.Debug("created client", zap.Stringer("kind", kind))
	s.clients[kind] = c
	return c, nil
}
