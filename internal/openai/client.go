// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/model"
)

const providerName = "openai"

// Config holds configuration options for the OpenAI client.
type Config struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for a proxy. Empty uses the SDK
	// default.
	BaseURL       string
	Timeout       time.Duration
	HeaderTimeout time.Duration
	// Organization is sent as OpenAI-Organization when set.
	Organization   string
	FallbackModels []llm.ModelInfo
}

// DefaultModels is the static catalog used when the models endpoint
// cannot be reached.
var DefaultModels = []llm.ModelInfo{
	{ID: "gpt-3.5-turbo", DisplayName: "GPT-3.5 Turbo", Kind: llm.KindOpenAI},
	{ID: "gpt-4", DisplayName: "GPT-4", Kind: llm.KindOpenAI},
	{ID: "gpt-4-turbo", DisplayName: "GPT-4 Turbo", Kind: llm.KindOpenAI},
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:        120 * time.Second,
		HeaderTimeout:  llm.DefaultHeaderTimeout,
		FallbackModels: DefaultModels,
	}
}

// Client wraps the SDK client. It owns at most one active stream.
type Client struct {
	cfg        Config
	sdk        oai.Client
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
	d := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.HeaderTimeout <= 0 {
		cfg.HeaderTimeout = d.HeaderTimeout
	}
	if len(cfg.FallbackModels) == 0 {
		cfg.FallbackModels = d.FallbackModels
	}

	c := &Client{
		cfg:        cfg,
		httpClient: llm.NewHTTPClient(cfg.Timeout),
		streamHTTP: llm.NewStreamingHTTPClient(cfg.HeaderTimeout),
		log:        log.Named(providerName),
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHeader("User-Agent", llm.UserAgent),
		option.WithHTTPClient(c.httpClient),
		// Completion retries are the caller's decision; streams are never
		// retried.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	c.sdk = oai.NewClient(opts...)
	return c
}

// Kind implements llm.Client.
func (c *Client) Kind() llm.Kind { return llm.KindOpenAI }

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool { return c.cfg.APIKey != "" }

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	if !c.IsConfigured() {
		return "", errNoKey
	}
	resp, err := c.sdk.Chat.Completions.New(ctx, Params(req))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.NewError(llm.ErrorProtocol, providerName, "response has no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements llm.Client. The first chunk is read before returning
// so that HTTP errors surface here rather than on the first Next.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if !c.IsConfigured() {
		return nil, errNoKey
	}
	streamCtx, release := c.slot.Begin(ctx)

	sse := c.sdk.Chat.Completions.NewStreaming(streamCtx, Params(req), option.WithHTTPClient(c.streamHTTP))

	pull := func() (string, bool, error) {
		if !sse.Next() {
			if err := sse.Err(); err != nil {
				return "", false, classify(err)
			}
			return "", true, nil
		}
		chunk := sse.Current()
		if len(chunk.Choices) == 0 {
			return "", false, nil
		}
		return chunk.Choices[0].Delta.Content, false, nil
	}
	closeFn := func() error {
		err := sse.Close()
		release()
		return err
	}

	return llm.Primed(llm.NewStream(pull, closeFn))
}

// CancelStream implements llm.Client.
func (c *Client) CancelStream() {
	c.slot.Cancel()
}

// ListModels implements llm.Client. Only chat-capable gpt and o-series ids
// are returned.
func (c *Client) ListModels(ctx context.Context) []llm.ModelInfo {
	if !c.IsConfigured() {
		return c.cfg.FallbackModels
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	page, err := c.sdk.Models.List(ctx)
	if err != nil {
		c.log.Debug("listing models failed, using fallback", zap.Error(err))
		return c.cfg.FallbackModels
	}
	var out []llm.ModelInfo
	for _, m := range page.Data {
		if !isChatModel(m.ID) {
			continue
		}
		out = append(out, llm.ModelInfo{ID: m.ID, DisplayName: m.ID, Kind: llm.KindOpenAI})
	}
	if len(out) == 0 {
		return c.cfg.FallbackModels
	}
	return out
}

func isChatModel(id string) bool {
	if strings.Contains(id, "embedding") || strings.Contains(id, "audio") ||
		strings.Contains(id, "realtime") || strings.Contains(id, "tts") ||
		strings.Contains(id, "whisper") || strings.Contains(id, "dall-e") {
		return false
	}
	return strings.HasPrefix(id, "gpt-") || strings.HasPrefix(id, "o1") ||
		strings.HasPrefix(id, "o3") || strings.HasPrefix(id, "o4")
}

// =============================================================================
// REQUEST SHAPING
// =============================================================================

// Params builds Chat Completions parameters for req: the style instruction
// is prepended as a system message.
func Params(req llm.Request) oai.ChatCompletionNewParams {
	msgs := llm.WithSystemStyle(llm.KindOpenAI, req.Messages, req.Style)
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messageParams(msgs),
	}
	// o-series reasoning models reject a temperature.
	if !isReasoningModel(req.Model) {
		params.Temperature = oai.Float(req.EffectiveTemperature())
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(req.MaxTokens))
	}
	return params
}

func isReasoningModel(id string) bool {
	return strings.HasPrefix(id, "o1") || strings.HasPrefix(id, "o3") || strings.HasPrefix(id, "o4")
}

func messageParams(msgs []llm.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, oai.ChatCompletionMessageParamUnion{
				OfSystem: &oai.ChatCompletionSystemMessageParam{
					Content: oai.ChatCompletionSystemMessageParamContentUnion{OfString: oai.String(m.Content)},
				},
			})
		case model.RoleAssistant:
			out = append(out, oai.ChatCompletionMessageParamUnion{
				OfAssistant: &oai.ChatCompletionAssistantMessageParam{
					Content: oai.ChatCompletionAssistantMessageParamContentUnion{OfString: oai.String(m.Content)},
				},
			})
		default:
			out = append(out, oai.ChatCompletionMessageParamUnion{
				OfUser: &oai.ChatCompletionUserMessageParam{
					Content: oai.ChatCompletionUserMessageParamContentUnion{OfString: oai.String(m.Content)},
				},
			})
		}
	}
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

var errNoKey = llm.NewError(llm.ErrorAuth, providerName, "no API key configured (set OPENAI_API_KEY)", nil)

// classify maps SDK errors onto the llm taxonomy.
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		e := llm.StatusError(providerName, apiErr.StatusCode, apiErr.Message)
		if apiErr.Code == "model_not_found" {
			e.Kind = llm.ErrorModelUnavailable
		}
		return e
	}
	return llm.Transport(providerName, err)
}
