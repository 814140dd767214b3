// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/termchat/internal/catalog"
	"github.com/jeranaias/termchat/internal/config"
	"github.com/jeranaias/termchat/internal/generation"
	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/logging"
	"github.com/jeranaias/termchat/internal/ollama"
	"github.com/jeranaias/termchat/internal/router"
	"github.com/jeranaias/termchat/internal/session"
	"github.com/jeranaias/termchat/internal/storage"
	"github.com/jeranaias/termchat/internal/stream"
	"github.com/jeranaias/termchat/internal/title"
)

// Options holds the global flags.
type Options struct {
	Model        string
	Style        string
	ConfigPath   string
	Conversation string
	Verbose      bool
}

// app is the wired stack every command runs on.
type app struct {
	opts     *Options
	cfg      *config.Config
	cfgPath  string
	log      *zap.Logger
	restore  func()
	store    *storage.Store
	selector *router.Selector
	ctrl     *generation.Controller
	titles   *title.Generator
	catalog  *catalog.Catalog
	watcher  *config.Watcher
}

// openApp loads the configuration and builds the stack.
func openApp(ctx context.Context, opts *Options) (*app, error) {
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	config.SetGlobal(cfg)

	log, err := newLogger(cfg, opts.Verbose)
	if err != nil {
		return nil, err
	}
	a := &app{
		opts:    opts,
		cfg:     cfg,
		cfgPath: path,
		log:     log,
		restore: logging.Install(log),
		titles:  title.New(log),
	}

	if cfg.Providers.Ollama.AutoStart {
		startOllama(ctx, cfg, log)
	}
	snap := config.ProbeAvailability(ctx, cfg, nil)
	a.selector = router.NewSelector(cfg, snap, log)

	dbPath, err := config.DataPath("history.db")
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = storage.Open(dbPath, storage.Options{
		MaxConversations: cfg.MaxHistoryItems,
		Logger:           log,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open conversation history: %w", err)
	}

	a.ctrl = generation.New(a.selector, a.store, generation.Options{
		Stream: stream.Config{
			FlushInterval: cfg.Stream.FlushInterval(),
			FlushSize:     cfg.Stream.FlushSize,
			Yield:         cfg.Stream.Yield(),
		},
		CancelWait: cfg.Stream.CancelWait(),
		Logger:     log,
	})

	catPath, err := config.DataPath(catalog.FileName)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = catalog.New(catPath, log)
	if err := a.catalog.Load(); err != nil {
		log.Warn("ignoring model cache", zap.Error(err))
	}

	log.Info("termchat started",
		zap.String("model", cfg.SelectedModel),
		zap.Any("providers", snap.ProviderAvailability))
	return a, nil
}

// ollamaStartTimeout bounds how long startup waits for `ollama serve`.
const ollamaStartTimeout = 15 * time.Second

// startOllama launches a local Ollama server that is configured but not
// answering. On failure Ollama models are simply unavailable.
func startOllama(ctx context.Context, cfg *config.Config, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, ollamaStartTimeout)
	defer cancel()
	c := ollama.New(ollama.Config{BaseURL: cfg.Providers.Ollama.BaseURL}, log)
	if err := c.EnsureRunning(ctx); err != nil {
		log.Debug("ollama not running", zap.Error(err))
	}
}

// loadConfig reads the config file named by --config, or the default one,
// and applies the --model and --style flags.
func loadConfig(opts *Options) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path = opts.ConfigPath
		err  error
	)
	if path != "" {
		cfg, err = config.LoadFrom(path)
	} else {
		if path, err = config.Path(); err != nil {
			return nil, "", err
		}
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, "", fmt.Errorf("configuration error: %w", err)
	}
	applyFlags(cfg, opts)
	return cfg, path, nil
}

func applyFlags(cfg *config.Config, opts *Options) {
	if opts.Model != "" {
		cfg.SelectedModel = opts.Model
	}
	if opts.Style != "" {
		cfg.SelectedStyle = opts.Style
	}
}

func newLogger(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	dir := cfg.Logging.Dir
	if dir == "" {
		d, err := config.DataPath("logs")
		if err != nil {
			return nil, err
		}
		dir = d
	}
	log, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Dir:        dir,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Console:    verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	return log, nil
}

// watch reloads the configuration when the file changes. Flags keep
// precedence over the reloaded file.
func (a *app) watch(ctx context.Context) {
	w, err := config.NewWatcher(a.cfgPath, a.log)
	if err != nil {
		a.log.Warn("config reload disabled", zap.Error(err))
		return
	}
	w.Subscribe(func(cfg *config.Config) {
		applyFlags(cfg, a.opts)
		config.SetGlobal(cfg)
		a.selector.Update(cfg, config.ProbeAvailability(ctx, cfg, nil))
	})
	w.Start()
	a.watcher = w
}

// Close releases everything openApp acquired.
func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if a.ctrl != nil {
		a.ctrl.Cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing history failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
	if a.restore != nil {
		a.restore()
	}
}

// modelID picks the model for a new session: the flag if given, else the
// configured model if its provider is up, else the first usable one.
func (a *app) modelID() string {
	if a.opts.Model != "" {
		return a.opts.Model
	}
	return a.selector.Snapshot().UsableModel()
}

// maxTokens returns the output limit configured for id, or zero.
func (a *app) maxTokens(id string) int {
	return config.Global().Models[id].MaxTokens
}

// kindOf names the provider serving id.
func (a *app) kindOf(id string) (llm.Kind, bool) {
	kind, err := router.KindFor(a.selector.Snapshot(), id)
	return kind, err == nil
}

// newSession creates a session, resuming --conversation when given. A
// resumed conversation keeps its own model and style unless flags override
// them. Sessions created with save false never write to the history.
func (a *app) newSession(ctx context.Context, save bool) (*session.Session, error) {
	cfg := session.Config{
		Model:    a.modelID(),
		Style:    a.cfg.SelectedStyle,
		AutoSave: save && a.cfg.AutoSave,
	}
	resume := a.opts.Conversation != ""
	if resume {
		cfg.Model, cfg.Style = a.opts.Model, a.opts.Style
	}
	cfg.MaxTokens = a.maxTokens(cfg.Model)
	sess := session.New(a.store, a.selector, a.titles, cfg, a.log)
	if !resume {
		return sess, nil
	}

	convID, err := a.store.ResolveID(ctx, a.opts.Conversation)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			return nil, fmt.Errorf("no saved conversation %q", a.opts.Conversation)
		}
		return nil, err
	}
	if err := sess.Resume(ctx, convID); err != nil {
		return nil, err
	}
	id := sess.Model()
	if id == "" {
		id = a.modelID()
	}
	sess.SetModel(id, a.maxTokens(id))
	if sess.Style() == "" {
		sess.SetStyle(a.cfg.SelectedStyle)
	}
	return sess, nil
}

// refresher builds the background catalog job.
func (a *app) refresher() *catalog.Refresher {
	interval := time.Duration(a.cfg.Catalog.RefreshIntervalMinutes) * time.Minute
	return catalog.NewRefresher(a.catalog, a.selector, interval, a.log)
}
