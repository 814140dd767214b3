// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/termchat/internal/llm"
)

// ollamaProbeTimeout bounds the availability check against /api/tags.
const ollamaProbeTimeout = 2 * time.Second

// Snapshot is the read-only configuration view used to pick a backend for
// a turn. It is taken once per turn so a concurrent reload cannot change
// the decision half way through.
type Snapshot struct {
	SelectedModel        string
	SelectedStyle        string
	AvailableModels      map[string]ModelConfig
	ProviderAvailability map[llm.Kind]bool
	CompatibleModels     []string
}

// Snapshot copies the parts of c the provider selector needs. Provider
// availability is filled from static checks only; see ProbeAvailability.
func (c *Config) Snapshot() Snapshot {
	models := make(map[string]ModelConfig, len(c.Models))
	for id, m := range c.Models {
		models[id] = m
	}
	return Snapshot{
		SelectedModel:        c.SelectedModel,
		SelectedStyle:        c.SelectedStyle,
		AvailableModels:      models,
		ProviderAvailability: c.staticAvailability(),
		CompatibleModels:     append([]string(nil), c.Providers.Compatible.Models...),
	}
}

func (c *Config) staticAvailability() map[llm.Kind]bool {
	return map[llm.Kind]bool{
		llm.KindOpenAI:           c.Providers.OpenAI.APIKey != "",
		llm.KindAnthropic:        c.Providers.Anthropic.APIKey != "",
		llm.KindOllama:           false,
		llm.KindOpenAICompatible: c.Providers.Compatible.BaseURL != "",
	}
}

// ProbeAvailability builds a Snapshot and checks whether the Ollama server
// answers GET /api/tags within two seconds. hc may be nil.
func ProbeAvailability(ctx context.Context, c *Config, hc *http.Client) Snapshot {
	snap := c.Snapshot()
	snap.ProviderAvailability[llm.KindOllama] = probeOllama(ctx, c.Providers.Ollama.BaseURL, hc)
	return snap
}

func probeOllama(ctx context.Context, baseURL string, hc *http.Client) bool {
	if baseURL == "" {
		return false
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := hc.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Available reports whether kind is usable.
func (s Snapshot) Available(kind llm.Kind) bool {
	return s.ProviderAvailability[kind]
}

// UsableModel returns the selected model if its configured provider is
// available, otherwise the first configured model (by id) whose provider
// is. It returns the selected model unchanged when nothing is available or
// the model is not in the configured list.
func (s Snapshot) UsableModel() string {
	m, ok := s.AvailableModels[s.SelectedModel]
	if !ok {
		return s.SelectedModel
	}
	if kind, err := llm.ParseKind(m.Provider); err == nil && s.Available(kind) {
		return s.SelectedModel
	}

	ids := make([]string, 0, len(s.AvailableModels))
	for id := range s.AvailableModels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		kind, err := llm.ParseKind(s.AvailableModels[id].Provider)
		if err == nil && s.Available(kind) {
			return id
		}
	}
	return s.SelectedModel
}
