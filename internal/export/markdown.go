// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/termchat/internal/storage"
)

// MarkdownExporter renders a conversation as Markdown, with YAML front
// matter when metadata is enabled.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export renders conv.
func (e *MarkdownExporter) Export(conv *storage.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNoConversation
	}
	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(conv.DisplayTitle()))
		fmt.Fprintf(&sb, "id: %s\n", conv.ID)
		if conv.Model != "" {
			fmt.Fprintf(&sb, "model: %s\n", escapeYAML(conv.Model))
		}
		if conv.Style != "" {
			fmt.Fprintf(&sb, "style: %s\n", escapeYAML(conv.Style))
		}
		fmt.Fprintf(&sb, "created: %s\n", conv.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(conv.Messages))
		fmt.Fprintf(&sb, "exported: %s\n", e.options.now().Format(time.RFC3339))
		sb.WriteString("---\n\n")
	}

	sb.WriteString("# " + escapeMarkdown(conv.DisplayTitle()) + "\n\n")

	for _, msg := range conv.Messages {
		sb.WriteString("### " + roleLabel(msg))
		if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
			sb.WriteString(" (" + msg.CreatedAt.Format("15:04") + ")")
		}
		sb.WriteString("\n\n")
		sb.WriteString(strings.TrimRight(msg.Content, "\n"))
		sb.WriteString("\n\n---\n\n")
	}
	return []byte(sb.String()), nil
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// MimeType returns the Markdown MIME type.
func (e *MarkdownExporter) MimeType() string { return "text/markdown" }

// escapeMarkdown escapes characters that would change a heading's meaning.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	)
	return r.Replace(s)
}

// escapeYAML quotes a scalar when it contains characters YAML treats
// specially.
func escapeYAML(s string) string {
	if !strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") &&
		!strings.HasPrefix(s, " ") && !strings.HasSuffix(s, " ") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}
