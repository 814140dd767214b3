// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/llm"
)

const providerName = "anthropic"

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds configuration options for the Anthropic client.
type Config struct {
	APIKey  string
	BaseURL string

	// Version is sent as the anthropic-version header.
	Version string

	// Timeout bounds non-streaming requests end to end.
	Timeout time.Duration

	// HeaderTimeout bounds connect plus first byte of a streaming request.
	HeaderTimeout time.Duration

	// MaxTokens is used when a request does not set one.
	MaxTokens int

	FallbackModels []llm.ModelInfo
}

// DefaultModels is the static catalog used when the models endpoint
// cannot be reached.
var DefaultModels = []llm.ModelInfo{
	{ID: "claude-3-opus", DisplayName: "Claude 3 Opus", Kind: llm.KindAnthropic},
	{ID: "claude-3-sonnet", DisplayName: "Claude 3 Sonnet", Kind: llm.KindAnthropic},
	{ID: "claude-3-haiku", DisplayName: "Claude 3 Haiku", Kind: llm.KindAnthropic},
	{ID: "claude-3-7-sonnet", DisplayName: "Claude 3.7 Sonnet", Kind: llm.KindAnthropic},
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://api.anthropic.com",
		Version:        "2023-06-01",
		Timeout:        120 * time.Second,
		HeaderTimeout:  llm.DefaultHeaderTimeout,
		MaxTokens:      1024,
		FallbackModels: DefaultModels,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = d.HeaderTimeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if len(c.FallbackModels) == 0 {
		c.FallbackModels = d.FallbackModels
	}
	return c
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the Anthropic Messages API. It owns at most one active
// stream.
type Client struct {
	cfg        Config
	httpClient *http.Client
	streamHTTP *http.Client
	slot       llm.StreamSlot
	log        *zap.Logger
}

// New creates a client. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: llm.NewHTTPClient(cfg.Timeout),
		streamHTTP: llm.NewStreamingHTTPClient(cfg.HeaderTimeout),
		log:        log.Named(providerName),
	}
}

// Kind implements llm.Client.
func (c *Client) Kind() llm.Kind { return llm.KindAnthropic }

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool { return c.cfg.APIKey != "" }

func (c *Client) buildRequest(req llm.Request, stream bool) MessagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	return MessagesRequest{
		Model:       req.Model,
		Messages:    ShapeMessages(req.Messages, req.Style),
		MaxTokens:   maxTokens,
		Temperature: req.EffectiveTemperature(),
		Stream:      stream,
	}
}

// =============================================================================
// COMPLETION
// =============================================================================

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	resp, err := c.post(ctx, c.httpClient, c.buildRequest(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := llm.ReadBody(resp)
	if err != nil {
		return "", llm.Transport(providerName, err)
	}
	var out MessagesResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", llm.NewError(llm.ErrorProtocol, providerName, "failed to decode response", err)
	}
	if len(out.Content) == 0 {
		return "", llm.NewError(llm.ErrorProtocol, providerName, "response has no content", nil)
	}
	return out.Text(), nil
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	streamCtx, release := c.slot.Begin(ctx)

	resp, err := c.post(streamCtx, c.streamHTTP, c.buildRequest(req, true))
	if err != nil {
		release()
		return nil, err
	}

	events := NewEventReader(resp.Body)
	pull := func() (string, bool, error) {
		for {
			ev, err := events.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return "", false, llm.NewError(llm.ErrorNetwork, providerName,
						"connection closed before the reply finished", io.ErrUnexpectedEOF)
				}
				return "", false, llm.Transport(providerName, err)
			}

			var payload StreamEvent
			if len(ev.Data) > 0 {
				if err := json.Unmarshal(ev.Data, &payload); err != nil {
					c.log.Debug("skipping malformed event", zap.String("event", ev.Type))
					continue
				}
			}
			typ := ev.Type
			if typ == "" {
				typ = payload.Type
			}

			switch typ {
			case EventContentBlockDelta:
				if payload.Delta.Type != "" && payload.Delta.Type != "text_delta" {
					continue
				}
				return payload.Delta.Text, false, nil
			case EventMessageStop:
				return "", true, nil
			case EventError:
				return "", false, eventError(payload.Error)
			}
		}
	}
	closeFn := func() error {
		err := resp.Body.Close()
		release()
		return err
	}
	return llm.NewStream(pull, closeFn), nil
}

// CancelStream implements llm.Client.
func (c *Client) CancelStream() {
	c.slot.Cancel()
}

// =============================================================================
// MODELS
// =============================================================================

// ListModels implements llm.Client. It falls back to the static catalog
// when no key is set or the request fails.
func (c *Client) ListModels(ctx context.Context) []llm.ModelInfo {
	if !c.IsConfigured() {
		return c.cfg.FallbackModels
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return c.cfg.FallbackModels
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Debug("listing models failed, using fallback", zap.Error(err))
		return c.cfg.FallbackModels
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Debug("listing models failed, using fallback", zap.Int("status", resp.StatusCode))
		return c.cfg.FallbackModels
	}

	var body ModelsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, llm.MaxResponseSize)).Decode(&body); err != nil || len(body.Data) == 0 {
		return c.cfg.FallbackModels
	}
	out := make([]llm.ModelInfo, 0, len(body.Data))
	for _, m := range body.Data {
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		out = append(out, llm.ModelInfo{ID: m.ID, DisplayName: name, Kind: llm.KindAnthropic})
	}
	return out
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", c.cfg.Version)
	req.Header.Set("User-Agent", llm.UserAgent)
}

func (c *Client) post(ctx context.Context, hc *http.Client, body MessagesRequest) (*http.Response, error) {
	if !c.IsConfigured() {
		return nil, llm.NewError(llm.ErrorAuth, providerName, "no API key configured (set ANTHROPIC_API_KEY)", nil)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrorProtocol, providerName, "failed to marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewError(llm.ErrorNetwork, providerName, "failed to create request", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, llm.Transport(providerName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body ErrorBody
	msg := ""
	if json.Unmarshal(data, &body) == nil {
		msg = body.Error.Message
	}
	return llm.StatusError(providerName, resp.StatusCode, msg)
}

// eventError converts an in-stream error event.
func eventError(d *ErrorDetail) error {
	if d == nil {
		return llm.NewError(llm.ErrorProtocol, providerName, "stream error", nil)
	}
	kind := llm.ErrorProtocol
	switch d.Type {
	case "overloaded_error", "api_error":
		kind = llm.ErrorNetwork
	case "rate_limit_error":
		kind = llm.ErrorRateLimited
	case "authentication_error", "permission_error":
		kind = llm.ErrorAuth
	case "not_found_error":
		kind = llm.ErrorModelUnavailable
	}
	return llm.NewError(kind, providerName, d.Message, nil)
}
