// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/storage"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testConversation() *storage.Conversation {
	created := time.Date(2025, 2, 28, 9, 30, 0, 0, time.UTC)
	return &storage.Conversation{
		ID:        "3f2a9c1e-0000-4000-8000-000000000001",
		Title:     "Go: channels",
		Model:     "llama3",
		Style:     "concise",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
		Messages: []storage.Message{
			{ID: 1, Role: model.RoleUser, Content: "What is a **channel**?", CreatedAt: created},
			{ID: 2, Role: model.RoleAssistant, Content: "A typed pipe.\n\n```go\nch := make(chan int)\n```\n<script>alert(1)</script>", CreatedAt: created.Add(time.Minute)},
		},
	}
}

func testOptions() *Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return testNow }
	return opts
}

// =============================================================================
// FORMAT SELECTION
// =============================================================================

func TestForFormat(t *testing.T) {
	tests := []struct {
		name string
		ext  string
	}{
		{"md", ".md"},
		{"Markdown", ".md"},
		{"json", ".json"},
		{" html ", ".html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ForFormat(tt.name, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.ext, e.FileExtension())
		})
	}

	_, err := ForFormat("pdf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "md, json, html")
}

func TestExporters_NilConversation(t *testing.T) {
	for _, name := range Formats() {
		e, err := ForFormat(name, nil)
		require.NoError(t, err)
		_, err = e.Export(nil)
		assert.ErrorIs(t, err, ErrNoConversation, name)
	}
}

// =============================================================================
// MARKDOWN
// =============================================================================

func TestMarkdown_Export(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions()).Export(testConversation())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: \"Go: channels\"\n"))
	assert.Contains(t, md, "model: llama3\n")
	assert.Contains(t, md, "style: concise\n")
	assert.Contains(t, md, "messages: 2\n")
	assert.Contains(t, md, "exported: 2025-03-01T12:00:00Z\n")
	assert.Contains(t, md, "# Go: channels\n")
	assert.Contains(t, md, "### User (09:30)\n\nWhat is a **channel**?")
	assert.Contains(t, md, "### Assistant (09:31)\n\nA typed pipe.")
}

func TestMarkdown_NoMetadata(t *testing.T) {
	opts := testOptions()
	opts.IncludeMetadata = false
	opts.IncludeTimestamps = false
	conv := testConversation()
	conv.Title = ""

	out, err := NewMarkdownExporter(opts).Export(conv)
	require.NoError(t, err)
	md := string(out)
	assert.True(t, strings.HasPrefix(md, "# Untitled conversation\n"))
	assert.Contains(t, md, "### User\n")
	assert.NotContains(t, md, "model:")
}

func TestEscapeYAML(t *testing.T) {
	assert.Equal(t, "plain", escapeYAML("plain"))
	assert.Equal(t, `"a: b"`, escapeYAML("a: b"))
	assert.Equal(t, `"line\nbreak"`, escapeYAML("line\nbreak"))
	assert.Equal(t, `"say \"hi\""`, escapeYAML(`say "hi"`))
}

// =============================================================================
// JSON
// =============================================================================

func TestJSON_Export(t *testing.T) {
	out, err := NewJSONExporter(testOptions()).Export(testConversation())
	require.NoError(t, err)

	var doc struct {
		Format       string               `json:"format"`
		ExportedAt   time.Time            `json:"exported_at"`
		Conversation storage.Conversation `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "termchat.conversation.v1", doc.Format)
	assert.True(t, doc.ExportedAt.Equal(testNow))
	assert.Equal(t, "llama3", doc.Conversation.Model)
	require.Len(t, doc.Conversation.Messages, 2)
	assert.Equal(t, model.RoleAssistant, doc.Conversation.Messages[1].Role)
}

// =============================================================================
// HTML
// =============================================================================

func TestHTML_Export(t *testing.T) {
	conv := testConversation()
	conv.Title = "<b>Go</b>"

	out, err := NewHTMLExporter(testOptions()).Export(conv)
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, "<title>&lt;b&gt;Go&lt;/b&gt;</title>")
	assert.Contains(t, page, `<body class="dark">`)
	assert.Contains(t, page, "<strong>channel</strong>")
	assert.Contains(t, page, "ch := make(chan int)")
	assert.Contains(t, page, `class="message assistant"`)
	assert.Contains(t, page, "Model: llama3")
	assert.NotContains(t, page, "<script>")
}

func TestHTML_LightTheme(t *testing.T) {
	opts := testOptions()
	opts.Theme = "light"
	out, err := NewHTMLExporter(opts).Export(testConversation())
	require.NoError(t, err)
	assert.Contains(t, string(out), `<body class="light">`)
}

// =============================================================================
// FILES
// =============================================================================

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	e, err := ForFormat("md", testOptions())
	require.NoError(t, err)

	path, err := WriteFile(testConversation(), e, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conversation_Go-_channels_2025-02-28_093000.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Go: channels")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c_d", sanitizeFilename("a/b:c d"))
	assert.Equal(t, "conversation", sanitizeFilename(""))
	assert.Equal(t, 50, len([]rune(sanitizeFilename(strings.Repeat("x", 80)))))
}
