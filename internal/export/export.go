// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mayankbarode/OpenChat/internal/model"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a conversation in one format.
type Exporter interface {
	// Export converts a conversation to the target format and returns the content.
	Export(doc *Document) ([]byte, error)

	// FileExtension returns the file extension, including the dot.
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// Formats lists the supported format names.
var Formats = []string{"markdown", "json", "yaml"}

// ForFormat returns the exporter for a format name or file extension.
func ForFormat(name string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "yaml", "yml":
		return NewYAMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (supported: %s)", name, strings.Join(Formats, ", "))
	}
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// IncludeErrors keeps the error messages recorded after failed turns.
	IncludeErrors bool

	// IncludeImages embeds attached images as data URLs. Otherwise an
	// attachment is only noted.
	IncludeImages bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeTimestamps: true,
		IncludeErrors:     true,
	}
}

// =============================================================================
// DOCUMENT
// =============================================================================

// Document is the format-independent form of an exported conversation.
type Document struct {
	Title          string    `json:"title" yaml:"title"`
	ConversationID string    `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	ExportedAt     time.Time `json:"exported_at" yaml:"exported_at"`
	Messages       []Record  `json:"messages" yaml:"messages"`
}

// Record is one exported message.
type Record struct {
	Role      string     `json:"role" yaml:"role"`
	Content   string     `json:"content" yaml:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	HasImage  bool       `json:"has_image,omitempty" yaml:"has_image,omitempty"`
	ImageURL  string     `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Error     bool       `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewDocument builds a document from session messages. Messages still
// streaming are exported with the content received so far.
func NewDocument(conversationID, title string, messages []*model.Message, opts *Options) *Document {
	if opts == nil {
		opts = DefaultOptions()
	}
	doc := &Document{
		Title:          title,
		ConversationID: conversationID,
		ExportedAt:     time.Now().UTC(),
		Messages:       make([]Record, 0, len(messages)),
	}
	for _, msg := range messages {
		if msg.Synthetic && !opts.IncludeErrors {
			continue
		}
		rec := Record{
			Role:     msg.Role.String(),
			Content:  msg.GetDisplayContent(),
			HasImage: msg.HasImage(),
			Error:    msg.Synthetic,
		}
		if opts.IncludeTimestamps && !msg.Timestamp.IsZero() {
			ts := msg.Timestamp
			rec.Timestamp = &ts
		}
		if opts.IncludeImages {
			rec.ImageURL = msg.ImageURL
		}
		doc.Messages = append(doc.Messages, rec)
	}
	return doc
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile writes doc to path. When path is empty or an existing
// directory a file name is derived from the title. It returns the path
// written.
func ExportToFile(doc *Document, exporter Exporter, path string) (string, error) {
	content, err := exporter.Export(doc)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if path == "" {
		path = "."
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		name := fmt.Sprintf("%s_%s%s",
			sanitizeFilename(doc.Title),
			doc.ExportedAt.Format("20060102_150405"),
			exporter.FileExtension())
		path = filepath.Join(path, name)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// sanitizeFilename makes a title safe to use in a file name.
func sanitizeFilename(s string) string {
	const maxLen = 50

	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == ' ' || r == '\t':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}

	runes := []rune(b.String())
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}
	if len(runes) == 0 {
		return "conversation"
	}
	return string(runes)
}
