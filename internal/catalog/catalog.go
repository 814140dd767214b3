// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/termchat/internal/config"
	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/logging"
	"github.com/jeranaias/termchat/internal/util"
)

// FileName is the cache file inside the data directory.
const FileName = "models.json"

// Entry is one selectable model.
type Entry struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Kind        llm.Kind `json:"provider"`
	// Configured marks entries that come from the config file.
	Configured bool `json:"configured,omitempty"`
}

// Source supplies clients and provider availability. router.Selector
// implements it.
type Source interface {
	Snapshot() config.Snapshot
	Client(kind llm.Kind) (llm.Client, error)
}

type cacheFile struct {
	UpdatedAt time.Time `json:"updated_at"`
	Models    []Entry   `json:"models"`
}

// Catalog is the merged model list. It is safe for concurrent use.
type Catalog struct {
	path string
	log  *zap.Logger

	mu      sync.RWMutex
	entries []Entry
	updated time.Time
}

// New creates an empty catalog cached at path. An empty path disables the
// cache file.
func New(path string, log *zap.Logger) *Catalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{path: path, log: log.Named("catalog")}
}

// Load reads the cache file. A missing file is not an error.
func (c *Catalog) Load() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read model cache: %w", err)
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse model cache: %w", err)
	}
	c.mu.Lock()
	c.entries = f.Models
	c.updated = f.UpdatedAt
	c.mu.Unlock()
	return nil
}

// Entries returns a copy of the current list.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.entries...)
}

// Updated returns when the list was last refreshed.
func (c *Catalog) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// Lookup finds an entry by id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Refresh rebuilds the list from the configured models and every
// available backend's listing, queried concurrently, then saves the cache.
// A backend that cannot be constructed is skipped.
func (c *Catalog) Refresh(ctx context.Context, src Source) error {
	start := time.Now()
	snap := src.Snapshot()

	var (
		mu     sync.Mutex
		listed []llm.ModelInfo
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range llm.Kinds() {
		if !snap.Available(kind) {
			continue
		}
		kind := kind
		g.Go(func() error {
			client, err := src.Client(kind)
			if err != nil {
				c.log.Debug("skipping provider", zap.Stringer("kind", kind), zap.Error(err))
				return nil
			}
			models := client.ListModels(gctx)
			mu.Lock()
			listed = append(listed, models...)
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	entries := merge(snap.AvailableModels, listed)
	now := time.Now()

	c.mu.Lock()
	c.entries = entries
	c.updated = now
	c.mu.Unlock()

	c.log.Info("catalog refreshed", zap.Int("models", len(entries)), logging.Elapsed(start))
	return c.save(entries, now)
}

func (c *Catalog) save(entries []Entry, at time.Time) error {
	if c.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(cacheFile{UpdatedAt: at, Models: entries}, "", "  ")
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("save model cache: %w", err)
	}
	return nil
}

// merge combines configured and listed models. Configured entries win on
// id clashes. The result is ordered by provider, then id.
func merge(configured map[string]config.ModelConfig, listed []llm.ModelInfo) []Entry {
	byID := make(map[string]Entry, len(configured)+len(listed))
	for id, m := range configured {
		kind, err := llm.ParseKind(m.Provider)
		if err != nil {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = id
		}
		byID[id] = Entry{ID: id, DisplayName: name, Kind: kind, Configured: true}
	}
	for _, m := range listed {
		if _, ok := byID[m.ID]; ok || m.ID == "" {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		byID[m.ID] = Entry{ID: m.ID, DisplayName: name, Kind: m.Kind}
	}

	out := make([]Entry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}
