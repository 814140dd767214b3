// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package compat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/model"
)

const providerName = "compatible"

// Config holds configuration for an OpenAI-compatible endpoint.
type Config struct {
	// BaseURL is the API root including the version segment, e.g.
	// http://localhost:8000/v1.
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	HeaderTimeout time.Duration
	// Models are the ids served by this endpoint, used as the fallback
	// catalog.
	Models []string
}

// Client wraps a go-openai client pointed at a custom base URL. It owns
// at most one active stream.
type Client struct {
	cfg    Config
	api    *goopenai.Client
	stream *goopenai.Client
	slot   llm.StreamSlot
	log    *zap.Logger
}

// New creates a client. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &Client{
		cfg:    cfg,
		api:    newSDK(cfg, llm.NewHTTPClient(cfg.Timeout)),
		stream: newSDK(cfg, llm.NewStreamingHTTPClient(cfg.HeaderTimeout)),
		log:    log.Named(providerName),
	}
}

func newSDK(cfg Config, hc *http.Client) *goopenai.Client {
	conf := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	conf.HTTPClient = hc
	return goopenai.NewClientWithConfig(conf)
}

// Kind implements llm.Client.
func (c *Client) Kind() llm.Kind { return llm.KindOpenAICompatible }

// IsConfigured reports whether a base URL is set.
func (c *Client) IsConfigured() bool { return c.cfg.BaseURL != "" }

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	if !c.IsConfigured() {
		return "", errNoBaseURL
	}
	resp, err := c.api.CreateChatCompletion(ctx, chatRequest(req, false))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.NewError(llm.ErrorProtocol, providerName, "response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if !c.IsConfigured() {
		return nil, errNoBaseURL
	}
	streamCtx, release := c.slot.Begin(ctx)

	resp, err := c.stream.CreateChatCompletionStream(streamCtx, chatRequest(req, true))
	if err != nil {
		release()
		return nil, classify(err)
	}

	pull := func() (string, bool, error) {
		chunk, err := resp.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", true, nil
			}
			return "", false, classify(err)
		}
		if len(chunk.Choices) == 0 {
			return "", false, nil
		}
		return chunk.Choices[0].Delta.Content, false, nil
	}
	closeFn := func() error {
		err := resp.Close()
		release()
		return err
	}
	return llm.NewStream(pull, closeFn), nil
}

// CancelStream implements llm.Client.
func (c *Client) CancelStream() {
	c.slot.Cancel()
}

// ListModels implements llm.Client. Servers that do not implement
// /models get the configured list.
func (c *Client) ListModels(ctx context.Context) []llm.ModelInfo {
	fallback := make([]llm.ModelInfo, 0, len(c.cfg.Models))
	for _, id := range c.cfg.Models {
		fallback = append(fallback, llm.ModelInfo{ID: id, DisplayName: id, Kind: llm.KindOpenAICompatible})
	}
	if !c.IsConfigured() {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	list, err := c.api.ListModels(ctx)
	if err != nil || len(list.Models) == 0 {
		c.log.Debug("listing models failed, using configured list", zap.Error(err))
		return fallback
	}
	out := make([]llm.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		out = append(out, llm.ModelInfo{ID: m.ID, DisplayName: m.ID, Kind: llm.KindOpenAICompatible})
	}
	return out
}

func chatRequest(req llm.Request, stream bool) goopenai.ChatCompletionRequest {
	msgs := llm.WithSystemStyle(llm.KindOpenAICompatible, req.Messages, req.Style)
	out := goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]goopenai.ChatCompletionMessage, 0, len(msgs)),
		Temperature: float32(req.EffectiveTemperature()),
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	for _, m := range msgs {
		role := goopenai.ChatMessageRoleUser
		switch m.Role {
		case model.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case model.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		out.Messages = append(out.Messages, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

var errNoBaseURL = llm.NewError(llm.ErrorProtocol, providerName, "no base URL configured (set OPENAI_COMPAT_BASE_URL)", nil)

// classify maps go-openai errors onto the llm taxonomy.
func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return llm.StatusError(providerName, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode != 0 {
			return llm.StatusError(providerName, reqErr.HTTPStatusCode, "")
		}
		return llm.Transport(providerName, reqErr.Err)
	}
	return llm.Transport(providerName, err)
}
