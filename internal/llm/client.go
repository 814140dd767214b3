// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/termchat/internal/model"
)

// =============================================================================
// PROVIDER KIND
// =============================================================================

// Kind identifies a backend. The set is closed: adding a backend means
// adding a constant here and a case to router.New.
type Kind int

const (
	KindOpenAI Kind = iota
	KindAnthropic
	KindOllama
	KindOpenAICompatible
)

var kindNames = [...]string{
	KindOpenAI:           "openai",
	KindAnthropic:        "anthropic",
	KindOllama:           "ollama",
	KindOpenAICompatible: "compatible",
}

// Kinds returns every backend kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindOpenAI, KindAnthropic, KindOllama, KindOpenAICompatible}
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a configuration name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return KindOpenAI, nil
	case "anthropic", "claude":
		return KindAnthropic, nil
	case "ollama", "local":
		return KindOllama, nil
	case "compatible", "openai-compatible", "openai_compatible":
		return KindOpenAICompatible, nil
	}
	return 0, fmt.Errorf("unknown provider %q", s)
}

// MarshalText implements encoding.TextMarshaler so kinds round-trip through
// TOML and JSON as their names.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message is one role/text pair sent to a backend.
type Message struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

// FromTurns converts transcript turns into request messages.
func FromTurns(turns []model.Turn) []Message {
	msgs := make([]Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, Message{Role: t.Role, Content: t.Text})
	}
	return msgs
}

// DefaultTemperature is used when a Request leaves Temperature at zero.
const DefaultTemperature = 0.7

// Request describes one completion or stream call.
//
// Style names a response style ("concise", "technical", ...). How the style
// reaches the model is up to each backend.
type Request struct {
	Messages    []Message
	Model       string
	Style       string
	Temperature float64
	MaxTokens   int

	// OnLoading, when set, is called by backends with a warmup phase just
	// before they start loading a cold model. It lets the caller show a
	// loading state instead of a hang.
	OnLoading func(model string)
}

// EffectiveTemperature returns Temperature or DefaultTemperature when unset.
func (r Request) EffectiveTemperature() float64 {
	if r.Temperature <= 0 {
		return DefaultTemperature
	}
	return r.Temperature
}

// NotifyLoading calls OnLoading if set.
func (r Request) NotifyLoading() {
	if r.OnLoading != nil {
		r.OnLoading(r.Model)
	}
}

// ModelInfo is one entry of a backend's model listing.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Kind        Kind   `json:"provider"`
}

// =============================================================================
// CLIENT CONTRACT
// =============================================================================

// Stream is a lazy sequence of text fragments, consumed in arrival order.
//
// Next blocks until a fragment is available and reports false when the
// stream is exhausted or failed; Err distinguishes the two. Close releases
// the underlying connection and may be called at any time, any number of
// times, including while another goroutine is blocked in Next.
type Stream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Completer is the one-shot half of Client.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client is implemented by every backend.
//
// A client owns at most one active stream. Opening a new stream while one
// is active cancels the old one.
type Client interface {
	Completer

	// Kind reports which backend this is.
	Kind() Kind

	// Stream opens a fragment stream. It returns once the stream is ready to
	// be iterated; backends with a warmup phase return only after warmup.
	Stream(ctx context.Context, req Request) (Stream, error)

	// ListModels lists available models. It never fails: on any error the
	// backend's static fallback catalog is returned.
	ListModels(ctx context.Context) []ModelInfo

	// CancelStream aborts the most recently opened stream. It is idempotent,
	// a no-op when no stream is active, and safe to call concurrently with
	// an outstanding read.
	CancelStream()
}
