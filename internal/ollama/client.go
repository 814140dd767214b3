// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jeranaias/termchat/internal/llm"
)

const providerName = "ollama"

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds configuration options for the Ollama client.
type Config struct {
	// BaseURL is the Ollama API base URL.
	// Note: explicit IPv4 avoids slow IPv6 localhost resolution on Windows.
	BaseURL string

	// Timeout bounds non-streaming requests end to end.
	Timeout time.Duration

	// HeaderTimeout bounds connect plus first byte of a streaming request.
	HeaderTimeout time.Duration

	// ProbeTimeout bounds the warmup probe against /api/ps.
	ProbeTimeout time.Duration

	// LoadTimeout bounds the model load issued when the probe says cold.
	LoadTimeout time.Duration

	// KeepAlive is how long Ollama keeps a loaded model resident.
	KeepAlive string

	// FallbackModels is returned by ListModels when the server is unreachable.
	FallbackModels []string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://127.0.0.1:11434",
		Timeout:        120 * time.Second,
		HeaderTimeout:  60 * time.Second,
		ProbeTimeout:   2 * time.Second,
		LoadTimeout:    5 * time.Minute,
		KeepAlive:      "5m",
		FallbackModels: []string{"llama2", "mistral", "codellama", "gemma"},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HeaderTimeout <= 0 {
		c.HeaderTimeout = d.HeaderTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.KeepAlive == "" {
		c.KeepAlive = d.KeepAlive
	}
	if len(c.FallbackModels) == 0 {
		c.FallbackModels = d.FallbackModels
	}
	return c
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the Ollama HTTP API. It is safe for concurrent use, but
// owns at most one active stream.
type Client struct {
	cfg        Config
	httpClient *http.Client // request/response calls
	streamHTTP *http.Client // streaming calls, header timeout only
	loadHTTP   *http.Client // model loads
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
		loadHTTP:   llm.NewHTTPClient(cfg.LoadTimeout),
		log:        log.Named(providerName),
	}
}

// Kind implements llm.Client.
func (c *Client) Kind() llm.Kind { return llm.KindOllama }

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that the server answers /api/tags.
func (c *Client) CheckRunning(ctx context.Context) error {
	_, err := c.Tags(ctx)
	return err
}

// EnsureRunning checks the server and, if it is down and the base URL is
// on this machine, starts `ollama serve` and waits for it to answer.
func (c *Client) EnsureRunning(ctx context.Context) error {
	err := c.CheckRunning(ctx)
	if err == nil || !c.isLocal() {
		return err
	}
	c.log.Info("server not reachable, starting it", zap.String("url", c.cfg.BaseURL))
	return c.startOllamaProcess(ctx)
}

// isLocal reports whether the base URL names a loopback host.
func (c *Client) isLocal() bool {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// waitRunning polls CheckRunning until it succeeds or timeout passes.
func (c *Client) waitRunning(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		checkCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		lastErr = c.CheckRunning(checkCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return llm.Transport(providerName, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
	return llm.NewError(llm.ErrorNetwork, providerName,
		fmt.Sprintf("server started but not responding after %s", timeout), lastErr)
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// Tags lists the installed models.
func (c *Client) Tags(ctx context.Context) ([]ModelInfo, error) {
	var out ListModelsResponse
	if err := c.getJSON(ctx, "/api/tags", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Running lists the models currently loaded in memory.
func (c *Client) Running(ctx context.Context) ([]RunningModel, error) {
	var out RunningModelsResponse
	if err := c.getJSON(ctx, "/api/ps", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// ListModels implements llm.Client. Display names are title-cased model
// names; the configured fallback list is used if the server cannot be
// reached.
func (c *Client) ListModels(ctx context.Context) []llm.ModelInfo {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tags, err := c.Tags(ctx)
	if err != nil {
		c.log.Debug("listing models failed, using fallback", zap.Error(err))
		out := make([]llm.ModelInfo, 0, len(c.cfg.FallbackModels))
		for _, name := range c.cfg.FallbackModels {
			out = append(out, llm.ModelInfo{ID: name, DisplayName: DisplayName(name), Kind: llm.KindOllama})
		}
		return out
	}

	out := make([]llm.ModelInfo, 0, len(tags))
	for _, m := range tags {
		if m.Name == "" {
			continue
		}
		out = append(out, llm.ModelInfo{ID: m.Name, DisplayName: DisplayName(m.Name), Kind: llm.KindOllama})
	}
	return out
}

var titleCaser = cases.Title(language.English)

// DisplayName turns a model tag like "llama3:8b" into "Llama3:8b".
func DisplayName(name string) string {
	return titleCaser.String(name)
}

// =============================================================================
// COMPLETION
// =============================================================================

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	body := c.generateRequest(req, false)

	resp, err := c.post(ctx, c.httpClient, "/api/generate", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := llm.ReadBody(resp)
	if err != nil {
		return "", llm.Transport(providerName, err)
	}
	var out GenerateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", llm.NewError(llm.ErrorProtocol, providerName, "failed to decode response", err)
	}
	if out.Error != "" {
		return "", chunkError(out.Error)
	}
	return out.Response, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream implements llm.Client. It runs the warmup before opening the
// generate stream, so it may block for as long as a model load takes.
// CancelStream aborts either phase.
func (c *Client) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	streamCtx, release := c.slot.Begin(ctx)

	if err := c.Warm(streamCtx, req); err != nil {
		release()
		return nil, err
	}

	resp, err := c.post(streamCtx, c.streamHTTP, "/api/generate", c.generateRequest(req, true))
	if err != nil {
		release()
		return nil, err
	}

	reader := NewStreamReader(resp.Body)
	pull := func() (string, bool, error) {
		chunk, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", false, llm.NewError(llm.ErrorNetwork, providerName,
					"connection closed before the reply finished", io.ErrUnexpectedEOF)
			}
			return "", false, llm.Transport(providerName, err)
		}
		if chunk.Error != "" {
			return "", false, chunkError(chunk.Error)
		}
		return chunk.Response, chunk.Done, nil
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
// WARMUP
// =============================================================================

// Warm makes sure req.Model is loaded. It probes /api/ps; when the probe
// fails or the model is not resident it calls req.OnLoading and loads it.
func (c *Client) Warm(ctx context.Context, req llm.Request) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	loaded, probeErr := c.isLoaded(probeCtx, req.Model)
	cancel()

	if probeErr == nil && loaded {
		return nil
	}
	if ctx.Err() != nil {
		return llm.Transport(providerName, ctx.Err())
	}

	c.log.Info("loading model",
		zap.String("model", req.Model),
		zap.NamedError("probe_error", probeErr))
	req.NotifyLoading()

	start := time.Now()
	if err := c.Load(ctx, req.Model); err != nil {
		return err
	}
	c.log.Info("model loaded", zap.String("model", req.Model), zap.Duration("took", time.Since(start)))
	return nil
}

func (c *Client) isLoaded(ctx context.Context, name string) (bool, error) {
	running, err := c.Running(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range running {
		if sameModel(m.Name, name) || sameModel(m.Model, name) {
			return true, nil
		}
	}
	return false, nil
}

// Load asks the server to load a model by sending an empty prompt.
func (c *Client) Load(ctx context.Context, name string) error {
	body := GenerateRequest{Model: name, KeepAlive: c.cfg.KeepAlive}
	resp, err := c.post(ctx, c.loadHTTP, "/api/generate", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// sameModel compares model names, treating a missing tag as ":latest".
func sameModel(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return withTag(a) == withTag(b)
}

func withTag(name string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return name + ":latest"
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func (c *Client) generateRequest(req llm.Request, stream bool) GenerateRequest {
	return GenerateRequest{
		Model:  req.Model,
		Prompt: BuildPrompt(req.Messages, req.Style),
		Stream: stream,
		Options: &Options{
			Temperature: req.EffectiveTemperature(),
			NumPredict:  req.MaxTokens,
		},
		KeepAlive: c.cfg.KeepAlive,
	}
}

// post sends a JSON body and returns the response if it is 2xx. Any other
// status is converted to an *llm.Error and the body is closed.
func (c *Client) post(ctx context.Context, hc *http.Client, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.ErrorProtocol, providerName, "failed to marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewError(llm.ErrorNetwork, providerName, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", llm.UserAgent)

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

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return llm.NewError(llm.ErrorNetwork, providerName, "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", llm.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return llm.Transport(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	data, err := llm.ReadBody(resp)
	if err != nil {
		return llm.Transport(providerName, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return llm.NewError(llm.ErrorProtocol, providerName, "failed to decode response", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var apiErr APIError
	msg := ""
	if json.Unmarshal(data, &apiErr) == nil {
		msg = apiErr.Error
	}
	return llm.StatusError(providerName, resp.StatusCode, msg)
}

// chunkError converts an error reported inside a response body.
func chunkError(msg string) error {
	kind := llm.ErrorProtocol
	if strings.Contains(msg, "not found") {
		kind = llm.ErrorModelUnavailable
	}
	return llm.NewError(kind, providerName, msg, nil)
}
