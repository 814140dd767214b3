// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/termchat/internal/llm"
	"github.com/jeranaias/termchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete termchat configuration.
type Config struct {
	SelectedModel   string `toml:"selected_model" json:"selected_model"`
	SelectedStyle   string `toml:"selected_style" json:"selected_style"`
	MaxHistoryItems int    `toml:"max_history_items" json:"max_history_items"`
	AutoSave        bool   `toml:"auto_save" json:"auto_save"`

	Providers ProvidersConfig        `toml:"providers" json:"providers"`
	Models    map[string]ModelConfig `toml:"models" json:"models"`
	Styles    map[string]StyleConfig `toml:"styles" json:"styles"`
	Stream    StreamConfig           `toml:"stream" json:"stream"`
	UI        UIConfig               `toml:"ui" json:"ui"`
	Logging   LoggingConfig          `toml:"logging" json:"logging"`
	Catalog   CatalogConfig          `toml:"catalog" json:"catalog"`
}

// ProvidersConfig holds per-backend connection settings.
type ProvidersConfig struct {
	OpenAI     OpenAIConfig     `toml:"openai" json:"openai"`
	Anthropic  AnthropicConfig  `toml:"anthropic" json:"anthropic"`
	Ollama     OllamaConfig     `toml:"ollama" json:"ollama"`
	Compatible CompatibleConfig `toml:"compatible" json:"compatible"`
}

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey            string `toml:"api_key" json:"api_key"`
	BaseURL           string `toml:"base_url" json:"base_url"`
	Organization      string `toml:"organization" json:"organization"`
	HeaderTimeoutSecs int    `toml:"header_timeout_secs" json:"header_timeout_secs"`
}

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey            string `toml:"api_key" json:"api_key"`
	BaseURL           string `toml:"base_url" json:"base_url"`
	Version           string `toml:"version" json:"version"`
	MaxTokens         int    `toml:"max_tokens" json:"max_tokens"`
	HeaderTimeoutSecs int    `toml:"header_timeout_secs" json:"header_timeout_secs"`
}

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	BaseURL           string   `toml:"base_url" json:"base_url"`
	AutoStart         bool     `toml:"auto_start" json:"auto_start"`
	KeepAlive         string   `toml:"keep_alive" json:"keep_alive"`
	ProbeTimeoutMs    int      `toml:"probe_timeout_ms" json:"probe_timeout_ms"`
	LoadTimeoutSecs   int      `toml:"load_timeout_secs" json:"load_timeout_secs"`
	HeaderTimeoutSecs int      `toml:"header_timeout_secs" json:"header_timeout_secs"`
	Models            []string `toml:"models" json:"models"`
}

// CompatibleConfig configures an OpenAI-compatible endpoint.
type CompatibleConfig struct {
	BaseURL           string   `toml:"base_url" json:"base_url"`
	APIKey            string   `toml:"api_key" json:"api_key"`
	HeaderTimeoutSecs int      `toml:"header_timeout_secs" json:"header_timeout_secs"`
	Models            []string `toml:"models" json:"models"`
}

// ModelConfig describes one selectable model.
type ModelConfig struct {
	Provider    string `toml:"provider" json:"provider"`
	DisplayName string `toml:"display_name" json:"display_name"`
	MaxTokens   int    `toml:"max_tokens" json:"max_tokens"`
}

// StyleConfig describes one selectable response style.
type StyleConfig struct {
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description" json:"description"`
}

// StreamConfig tunes the stream assembler and generation controller.
type StreamConfig struct {
	FlushIntervalMs int `toml:"flush_interval_ms" json:"flush_interval_ms"`
	FlushSize       int `toml:"flush_size" json:"flush_size"`
	YieldMs         int `toml:"yield_ms" json:"yield_ms"`
	CancelWaitMs    int `toml:"cancel_wait_ms" json:"cancel_wait_ms"`
}

// FlushInterval returns the flush interval as a duration.
func (s StreamConfig) FlushInterval() time.Duration {
	return time.Duration(s.FlushIntervalMs) * time.Millisecond
}

// Yield returns the post-flush yield as a duration.
func (s StreamConfig) Yield() time.Duration {
	return time.Duration(s.YieldMs) * time.Millisecond
}

// CancelWait returns how long Cancel waits for a turn to wind down.
func (s StreamConfig) CancelWait() time.Duration {
	return time.Duration(s.CancelWaitMs) * time.Millisecond
}

// UIConfig contains terminal UI settings.
type UIConfig struct {
	Theme          string `toml:"theme" json:"theme"`
	ShowTimestamps bool   `toml:"show_timestamps" json:"show_timestamps"`
}

// LoggingConfig contains log file settings.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level"`
	Format     string `toml:"format" json:"format"`
	Dir        string `toml:"dir" json:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
}

// CatalogConfig controls the background model catalog refresh.
type CatalogConfig struct {
	RefreshIntervalMinutes int `toml:"refresh_interval_minutes" json:"refresh_interval_minutes"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with all default values.
func Default() *Config {
	return &Config{
		SelectedModel:   "gpt-3.5-turbo",
		SelectedStyle:   llm.StyleDefault,
		MaxHistoryItems: 100,
		AutoSave:        true,
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{HeaderTimeoutSecs: 60},
			Anthropic: AnthropicConfig{
				BaseURL:           "https://api.anthropic.com",
				Version:           "2023-06-01",
				MaxTokens:         1024,
				HeaderTimeoutSecs: 60,
			},
			Ollama: OllamaConfig{
				BaseURL:           "http://127.0.0.1:11434",
				AutoStart:         true,
				KeepAlive:         "5m",
				ProbeTimeoutMs:    2000,
				LoadTimeoutSecs:   300,
				HeaderTimeoutSecs: 60,
				Models:            []string{"llama2", "mistral", "codellama", "gemma"},
			},
			Compatible: CompatibleConfig{HeaderTimeoutSecs: 60},
		},
		Models: map[string]ModelConfig{
			"gpt-3.5-turbo":     {Provider: "openai", DisplayName: "GPT-3.5 Turbo", MaxTokens: 4096},
			"gpt-4":             {Provider: "openai", DisplayName: "GPT-4", MaxTokens: 8192},
			"claude-3-opus":     {Provider: "anthropic", DisplayName: "Claude 3 Opus", MaxTokens: 4096},
			"claude-3-sonnet":   {Provider: "anthropic", DisplayName: "Claude 3 Sonnet", MaxTokens: 4096},
			"claude-3-haiku":    {Provider: "anthropic", DisplayName: "Claude 3 Haiku", MaxTokens: 4096},
			"claude-3-7-sonnet": {Provider: "anthropic", DisplayName: "Claude 3.7 Sonnet", MaxTokens: 4096},
			"llama2":            {Provider: "ollama", DisplayName: "Llama 2", MaxTokens: 4096},
			"mistral":           {Provider: "ollama", DisplayName: "Mistral", MaxTokens: 4096},
			"codellama":         {Provider: "ollama", DisplayName: "Code Llama", MaxTokens: 4096},
			"gemma":             {Provider: "ollama", DisplayName: "Gemma", MaxTokens: 4096},
		},
		Styles: map[string]StyleConfig{
			llm.StyleDefault:   {Name: "Default", Description: "Standard assistant responses"},
			llm.StyleConcise:   {Name: "Concise", Description: "Brief and to the point responses"},
			llm.StyleDetailed:  {Name: "Detailed", Description: "Comprehensive and thorough responses"},
			llm.StyleTechnical: {Name: "Technical", Description: "Technical and precise language"},
			llm.StyleFriendly:  {Name: "Friendly", Description: "Warm and conversational tone"},
		},
		Stream: StreamConfig{
			FlushIntervalMs: 100,
			FlushSize:       100,
			YieldMs:         0,
			CancelWaitMs:    100,
		},
		UI: UIConfig{Theme: "auto"},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Catalog: CatalogConfig{RefreshIntervalMinutes: 30},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the termchat data directory: $TERMCHAT_HOME or ~/.termchat.
func Dir() (string, error) {
	if dir := os.Getenv("TERMCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".termchat"), nil
}

// Path returns the path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataPath returns the path of a file inside the data directory.
func DataPath(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ensureSecurePermissions tightens the config file to 0600 since it may
// hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file. A missing file yields the defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		return cfg, cfg.Validate()
	}
	return LoadFrom(path)
}

// LoadFrom reads the config file at path with full validation.
func LoadFrom(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the config file at path without environment overrides,
// for editing and saving back. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return cfg, nil
}

// decodeFile decodes path on top of the defaults. Maps in the file
// replace the default maps entirely.
func decodeFile(path string) (*Config, error) {
	_ = ensureSecurePermissions(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	var fileCfg Config
	meta, err := toml.Decode(string(data), &fileCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	mergeDecoded(cfg, &fileCfg, meta)
	return cfg, nil
}

// mergeDecoded copies every key that was present in the file onto cfg.
func mergeDecoded(cfg, file *Config, meta toml.MetaData) {
	set := func(key ...string) bool { return meta.IsDefined(key...) }

	if set("selected_model") {
		cfg.SelectedModel = file.SelectedModel
	}
	if set("selected_style") {
		cfg.SelectedStyle = file.SelectedStyle
	}
	if set("max_history_items") {
		cfg.MaxHistoryItems = file.MaxHistoryItems
	}
	if set("auto_save") {
		cfg.AutoSave = file.AutoSave
	}
	if set("models") {
		cfg.Models = file.Models
	}
	if set("styles") {
		cfg.Styles = file.Styles
	}

	mergeSection(&cfg.Providers.OpenAI, &file.Providers.OpenAI, meta, "providers", "openai")
	mergeSection(&cfg.Providers.Anthropic, &file.Providers.Anthropic, meta, "providers", "anthropic")
	mergeSection(&cfg.Providers.Ollama, &file.Providers.Ollama, meta, "providers", "ollama")
	mergeSection(&cfg.Providers.Compatible, &file.Providers.Compatible, meta, "providers", "compatible")
	mergeSection(&cfg.Stream, &file.Stream, meta, "stream")
	mergeSection(&cfg.UI, &file.UI, meta, "ui")
	mergeSection(&cfg.Logging, &file.Logging, meta, "logging")
	mergeSection(&cfg.Catalog, &file.Catalog, meta, "catalog")
}

// mergeSection copies the fields of a flat section struct whose toml key
// was defined in the file.
func mergeSection(dst, src any, meta toml.MetaData, path ...string) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src).Elem()
	t := dv.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		key := append(append([]string{}, path...), tag)
		if meta.IsDefined(key...) {
			dv.Field(i).Set(sv.Field(i))
		}
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default config file.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes cfg to path atomically with 0600 permissions.
func SaveTo(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# termchat configuration file\n")
	buf.WriteString("# API keys may also be supplied through the environment.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.SelectedModel) == "" {
		add("selected_model", "cannot be empty")
	}
	if _, ok := c.Styles[c.SelectedStyle]; !ok && c.SelectedStyle != llm.StyleDefault {
		add("selected_style", "unknown style '%s'", c.SelectedStyle)
	}
	if c.MaxHistoryItems < 1 || c.MaxHistoryItems > 10000 {
		add("max_history_items", "must be between 1 and 10000, got %d", c.MaxHistoryItems)
	}

	ids := make([]string, 0, len(c.Models))
	for id := range c.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := llm.ParseKind(c.Models[id].Provider); err != nil {
			add("models."+id+".provider", "%v", err)
		}
	}

	for field, raw := range map[string]string{
		"providers.openai.base_url":     c.Providers.OpenAI.BaseURL,
		"providers.anthropic.base_url":  c.Providers.Anthropic.BaseURL,
		"providers.ollama.base_url":     c.Providers.Ollama.BaseURL,
		"providers.compatible.base_url": c.Providers.Compatible.BaseURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			add(field, "invalid URL '%s'", raw)
		}
	}

	if c.Stream.FlushIntervalMs < 1 || c.Stream.FlushIntervalMs > 5000 {
		add("stream.flush_interval_ms", "must be between 1 and 5000, got %d", c.Stream.FlushIntervalMs)
	}
	if c.Stream.FlushSize < 1 {
		add("stream.flush_size", "must be positive, got %d", c.Stream.FlushSize)
	}
	if c.Stream.YieldMs < 0 {
		add("stream.yield_ms", "cannot be negative")
	}
	if c.Stream.CancelWaitMs < 0 {
		add("stream.cancel_wait_ms", "cannot be negative")
	}

	switch strings.ToLower(c.UI.Theme) {
	case "auto", "dark", "light":
	default:
		add("ui.theme", "invalid theme '%s', must be one of: auto, dark, light", c.UI.Theme)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		add("logging.format", "invalid format '%s', must be json or console", c.Logging.Format)
	}
	if c.Catalog.RefreshIntervalMinutes < 1 {
		add("catalog.refresh_interval_minutes", "must be at least 1")
	}

	if len(errs) > 0 {
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return errs
	}
	return nil
}

// SetDefaults fills zero values left by a sparse config file.
func (c *Config) SetDefaults() {
	d := Default()
	if c.SelectedStyle == "" {
		c.SelectedStyle = d.SelectedStyle
	}
	if c.MaxHistoryItems == 0 {
		c.MaxHistoryItems = d.MaxHistoryItems
	}
	if c.Models == nil {
		c.Models = d.Models
	}
	if len(c.Styles) == 0 {
		c.Styles = d.Styles
	}
	if c.Providers.Anthropic.BaseURL == "" {
		c.Providers.Anthropic.BaseURL = d.Providers.Anthropic.BaseURL
	}
	if c.Providers.Anthropic.Version == "" {
		c.Providers.Anthropic.Version = d.Providers.Anthropic.Version
	}
	if c.Providers.Anthropic.MaxTokens == 0 {
		c.Providers.Anthropic.MaxTokens = d.Providers.Anthropic.MaxTokens
	}
	if c.Providers.Ollama.BaseURL == "" {
		c.Providers.Ollama.BaseURL = d.Providers.Ollama.BaseURL
	}
	if c.Providers.Ollama.KeepAlive == "" {
		c.Providers.Ollama.KeepAlive = d.Providers.Ollama.KeepAlive
	}
	if len(c.Providers.Ollama.Models) == 0 {
		c.Providers.Ollama.Models = d.Providers.Ollama.Models
	}
	if c.Stream.FlushIntervalMs == 0 {
		c.Stream.FlushIntervalMs = d.Stream.FlushIntervalMs
	}
	if c.Stream.FlushSize == 0 {
		c.Stream.FlushSize = d.Stream.FlushSize
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Catalog.RefreshIntervalMinutes == 0 {
		c.Catalog.RefreshIntervalMinutes = d.Catalog.RefreshIntervalMinutes
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - OPENAI_API_KEY: providers.openai.api_key
//   - ANTHROPIC_API_KEY: providers.anthropic.api_key
//   - OLLAMA_BASE_URL: providers.ollama.base_url
//   - OPENAI_COMPAT_BASE_URL: providers.compatible.base_url
//   - OPENAI_COMPAT_API_KEY: providers.compatible.api_key
//   - TERMCHAT_MODEL: selected_model
//   - TERMCHAT_STYLE: selected_style
//   - TERMCHAT_LOG_LEVEL: logging.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		c.Providers.Ollama.BaseURL = v
	}
	if v := os.Getenv("OPENAI_COMPAT_BASE_URL"); v != "" {
		c.Providers.Compatible.BaseURL = v
	}
	if v := os.Getenv("OPENAI_COMPAT_API_KEY"); v != "" {
		c.Providers.Compatible.APIKey = v
	}
	if v := os.Getenv("TERMCHAT_MODEL"); v != "" {
		c.SelectedModel = v
	}
	if v := os.Getenv("TERMCHAT_STYLE"); v != "" {
		c.SelectedStyle = v
	}
	if v := os.Getenv("TERMCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation, e.g.
// "stream.flush_size" or "models.gpt-4.provider".
func (c *Config) Get(key string) (interface{}, error) {
	v, err := lookup(reflect.ValueOf(c).Elem(), splitKey(key), key)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type. Setting a field of a model or style that
// does not exist yet creates it.
func (c *Config) Set(key string, value interface{}) error {
	return assign(reflect.ValueOf(c).Elem(), splitKey(key), key, value)
}

// splitKey splits a dotted key, keeping dots inside map keys that follow
// "models." or "styles." intact for ids like "claude-3.7-sonnet".
func splitKey(key string) []string {
	parts := strings.Split(key, ".")
	if len(parts) > 3 && (parts[0] == "models" || parts[0] == "styles") {
		id := strings.Join(parts[1:len(parts)-1], ".")
		return []string{parts[0], id, parts[len(parts)-1]}
	}
	return parts
}

func lookup(v reflect.Value, parts []string, key string) (reflect.Value, error) {
	if len(parts) == 0 || parts[0] == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	switch v.Kind() {
	case reflect.Struct:
		field := fieldByTag(v, parts[0])
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", key)
		}
		if len(parts) == 1 {
			return field, nil
		}
		return lookup(field, parts[1:], key)
	case reflect.Map:
		elem := v.MapIndex(reflect.ValueOf(parts[0]))
		if !elem.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown entry: %s", key)
		}
		if len(parts) == 1 {
			return elem, nil
		}
		cp := reflect.New(elem.Type()).Elem()
		cp.Set(elem)
		return lookup(cp, parts[1:], key)
	}
	return reflect.Value{}, fmt.Errorf("field '%s' has no subkeys", key)
}

func assign(v reflect.Value, parts []string, key string, value interface{}) error {
	if len(parts) == 0 || parts[0] == "" {
		return errors.New("empty key")
	}
	switch v.Kind() {
	case reflect.Struct:
		field := fieldByTag(v, parts[0])
		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", key)
		}
		if len(parts) == 1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}
		return assign(field, parts[1:], key, value)
	case reflect.Map:
		if len(parts) == 1 {
			return fmt.Errorf("cannot set whole entry %s; set one of its fields", key)
		}
		if v.IsNil() {
			v.Set(reflect.MakeMap(v.Type()))
		}
		mk := reflect.ValueOf(parts[0])
		cp := reflect.New(v.Type().Elem()).Elem()
		if existing := v.MapIndex(mk); existing.IsValid() {
			cp.Set(existing)
		}
		if err := assign(cp, parts[1:], key, value); err != nil {
			return err
		}
		v.SetMapIndex(mk, cp)
		return nil
	}
	return fmt.Errorf("field '%s' has no subkeys", key)
}

// fieldByTag finds a struct field by its toml tag, falling back to a
// case-insensitive Go name match.
func fieldByTag(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if tag == name {
			return v.Field(i)
		}
	}
	goName := normalizeFieldName(name)
	return v.FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, goName) })
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(strVal == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Models = make(map[string]ModelConfig, len(c.Models))
	for k, v := range c.Models {
		clone.Models[k] = v
	}
	clone.Styles = make(map[string]StyleConfig, len(c.Styles))
	for k, v := range c.Styles {
		clone.Styles[k] = v
	}
	clone.Providers.Ollama.Models = append([]string(nil), c.Providers.Ollama.Models...)
	clone.Providers.Compatible.Models = append([]string(nil), c.Providers.Compatible.Models...)
	return &clone
}

// String returns the config as indented JSON with API keys redacted.
func (c *Config) String() string {
	safe := c.Clone()
	for _, k := range []*string{
		&safe.Providers.OpenAI.APIKey,
		&safe.Providers.Anthropic.APIKey,
		&safe.Providers.Compatible.APIKey,
	} {
		if *k != "" {
			*k = "[REDACTED]"
		}
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// StyleIDs returns the configured style ids in a stable order with
// "default" first.
func (c *Config) StyleIDs() []string {
	ids := make([]string, 0, len(c.Styles))
	for id := range c.Styles {
		if id != llm.StyleDefault {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return append([]string{llm.StyleDefault}, ids...)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on first
// access. Load errors fall back to defaults.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil || cfg == nil {
			cfg = Default()
			cfg.ApplyEnvOverrides()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
