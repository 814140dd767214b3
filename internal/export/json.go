// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/termchat/internal/storage"
)

// JSONExporter writes the stored conversation with an export envelope.
// Options other than Now are ignored; JSON is always complete.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type jsonDocument struct {
	Format       string                `json:"format"`
	ExportedAt   time.Time             `json:"exported_at"`
	Conversation *storage.Conversation `json:"conversation"`
}

// Export renders conv.
func (e *JSONExporter) Export(conv *storage.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, ErrNoConversation
	}
	doc := jsonDocument{
		Format:       "termchat.conversation.v1",
		ExportedAt:   e.options.now().UTC(),
		Conversation: conv,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// FileExtension returns ".json".
func (e *JSONExporter) FileExtension() string { return ".json" }

// MimeType returns the JSON MIME type.
func (e *JSONExporter) MimeType() string { return "application/json" }
