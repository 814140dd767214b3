// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/storage"
	"github.com/jeranaias/termchat/internal/util"
)

// =============================================================================
// EXPORTER
// =============================================================================

// Exporter renders a conversation in one file format.
type Exporter interface {
	Export(conv *storage.Conversation) ([]byte, error)
	FileExtension() string
	MimeType() string
}

// Options control what an export contains.
type Options struct {
	// IncludeMetadata adds the model, style and dates.
	IncludeMetadata bool
	// IncludeTimestamps labels each message with its time.
	IncludeTimestamps bool
	// Theme selects the HTML color scheme: "light" or "dark".
	Theme string
	// Now stamps the export; nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns options with metadata and timestamps on.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

func (o *Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// ErrNoConversation is returned when exporting a nil conversation.
var ErrNoConversation = errors.New("conversation is nil")

// Formats lists the accepted format names.
func Formats() []string {
	return []string{"md", "json", "html"}
}

// ForFormat returns the exporter for a format name. "markdown" is accepted
// for "md".
func ForFormat(name string, opts *Options) (Exporter, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (use %s)", name, strings.Join(Formats(), ", "))
	}
}

// =============================================================================
// FILES
// =============================================================================

// WriteFile exports conv into dir and returns the file path. The name is
// built from the title and the conversation's creation time. An empty dir
// means the current directory.
func WriteFile(conv *storage.Conversation, e Exporter, dir string) (string, error) {
	if conv == nil {
		return "", ErrNoConversation
	}
	data, err := e.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, Filename(conv, e.FileExtension()))
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

// Filename returns the default export file name for conv.
func Filename(conv *storage.Conversation, ext string) string {
	stamp := conv.CreatedAt.Format("2006-01-02_150405")
	return "conversation_" + sanitizeFilename(conv.DisplayTitle()) + "_" + stamp + ext
}

// sanitizeFilename replaces characters that are invalid in file names on
// common platforms and caps the length.
func sanitizeFilename(s string) string {
	const maxLen = 50
	if runes := []rune(s); len(runes) > maxLen {
		s = string(runes[:maxLen])
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "conversation"
	}
	return b.String()
}

// roleLabel is the display name for a stored role.
func roleLabel(m storage.Message) string {
	switch m.Role {
	case model.RoleAssistant:
		return "Assistant"
	case model.RoleSystem:
		return "System"
	default:
		return "User"
	}
}
