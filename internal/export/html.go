// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/jeranaias/termchat/internal/storage"
)

// HTMLExporter renders a conversation as a standalone HTML page. Message
// bodies are converted from Markdown; raw HTML in them is dropped.
type HTMLExporter struct {
	options *Options
	md      goldmark.Markdown
}

// NewHTMLExporter creates an HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{
		options: opts,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

type htmlMessage struct {
	Role  string
	Class string
	Time  string
	Body  template.HTML
}

type htmlPage struct {
	Title    string
	Theme    string
	Meta     bool
	Model    string
	Style    string
	Created  string
	Exported string
	Messages []htmlMessage
}

// Export renders conv.
func (e *HTMLExporter) Export(conv *storage.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNoConversation
	}
	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}
	page := htmlPage{
		Title:    conv.DisplayTitle(),
		Theme:    theme,
		Meta:     e.options.IncludeMetadata,
		Model:    conv.Model,
		Style:    conv.Style,
		Created:  conv.CreatedAt.Format("January 2, 2006 at 3:04 PM"),
		Exported: e.options.now().Format(time.RFC3339),
	}
	for _, msg := range conv.Messages {
		var body bytes.Buffer
		if err := e.md.Convert([]byte(msg.Content), &body); err != nil {
			return nil, err
		}
		m := htmlMessage{
			Role:  roleLabel(msg),
			Class: string(msg.Role),
			Body:  template.HTML(body.String()),
		}
		if e.options.IncludeTimestamps && !msg.CreatedAt.IsZero() {
			m.Time = msg.CreatedAt.Format("15:04")
		}
		page.Messages = append(page.Messages, m)
	}

	var out bytes.Buffer
	if err := pageTemplate.Execute(&out, page); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// FileExtension returns ".html".
func (e *HTMLExporter) FileExtension() string { return ".html" }

// MimeType returns the HTML MIME type.
func (e *HTMLExporter) MimeType() string { return "text/html" }

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta name="generator" content="termchat">
<title>{{.Title}}</title>
<style>
body { margin: 0; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; line-height: 1.6; }
body.dark { background: #1a1b26; color: #c0caf5; }
body.light { background: #fafafa; color: #24292f; }
.container { max-width: 860px; margin: 0 auto; padding: 2rem 1rem; }
header h1 { margin-bottom: 0.25rem; }
.meta { opacity: 0.7; font-size: 0.9rem; }
.message { border-radius: 8px; padding: 0.75rem 1rem; margin: 1rem 0; }
.dark .message.user { background: #24283b; }
.dark .message.assistant { background: #1f2335; border-left: 3px solid #7aa2f7; }
.light .message.user { background: #eef1f5; }
.light .message.assistant { background: #ffffff; border-left: 3px solid #0969da; }
.message.system { font-style: italic; opacity: 0.8; }
.role { font-weight: 600; }
.time { opacity: 0.6; font-size: 0.8rem; margin-left: 0.5rem; }
pre { overflow-x: auto; padding: 0.75rem; border-radius: 6px; }
.dark pre { background: #16161e; }
.light pre { background: #f0f0f0; }
footer { margin-top: 2rem; opacity: 0.6; font-size: 0.8rem; }
</style>
</head>
<body class="{{.Theme}}">
<div class="container">
<header>
<h1>{{.Title}}</h1>
{{- if .Meta}}
<div class="meta">{{if .Model}}Model: {{.Model}} &middot; {{end}}{{if .Style}}Style: {{.Style}} &middot; {{end}}{{.Created}}</div>
{{- end}}
</header>
<main>
{{- range .Messages}}
<section class="message {{.Class}}">
<div><span class="role">{{.Role}}</span>{{if .Time}}<span class="time">{{.Time}}</span>{{end}}</div>
{{.Body}}
</section>
{{- end}}
</main>
<footer>Exported from termchat on {{.Exported}}</footer>
</div>
</body>
</html>
`))
