// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the active log file inside Dir.
const FileName = "termchat.log"

const timeFormat = "2006-01-02 15:04:05.000"

// Options configure New. Zero values take the defaults noted per field.
type Options struct {
	Level      string // debug, info (default), warn, error
	Format     string // json (default) or console
	Dir        string // required unless Console is set
	MaxSizeMB  int    // default 10
	MaxBackups int    // default 3
	MaxAgeDays int    // default 28
	Compress   bool
	// Console also writes to stderr.
	Console bool
}

func (o Options) withDefaults() Options {
	if o.Format == "" {
		o.Format = "json"
	}
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 10
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = 3
	}
	if o.MaxAgeDays <= 0 {
		o.MaxAgeDays = 28
	}
	return o
}

// ParseLevel maps a level name to a zap level. Unknown names are info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// New builds a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	opts = opts.withDefaults()
	level := ParseLevel(opts.Level)

	var sinks []zapcore.WriteSyncer
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, FileName),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
			LocalTime:  true,
		}))
	}
	if opts.Console {
		sinks = append(sinks, zapcore.Lock(os.Stderr))
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("logging: no output configured")
	}

	core := zapcore.NewCore(encoder(opts.Format), zapcore.NewMultiWriteSyncer(sinks...), level)

	zopts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if level == zap.DebugLevel {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(core, zopts...), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Install makes log the process-wide zap logger and returns a function
// that flushes it and restores the previous one.
func Install(log *zap.Logger) func() {
	restore := zap.ReplaceGlobals(log)
	return func() {
		_ = log.Sync()
		restore()
	}
}

func encoder(format string) zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeFormat),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "console" {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

// Elapsed returns a zap field with the time since start.
func Elapsed(start time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(start))
}
