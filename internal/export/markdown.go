// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown format.
func (e *MarkdownExporter) Export(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("conversation is nil")
	}
	if len(doc.Messages) == 0 {
		return nil, errors.New("conversation has no messages")
	}

	var sb strings.Builder

	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "title: %s\n", escapeYAML(doc.Title))
	if doc.ConversationID != "" {
		fmt.Fprintf(&sb, "conversation: %s\n", doc.ConversationID)
	}
	fmt.Fprintf(&sb, "messages: %d\n", len(doc.Messages))
	fmt.Fprintf(&sb, "exported: %s\n", doc.ExportedAt.Format(time.RFC3339))
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(doc.Title))

	for i, rec := range doc.Messages {
		label := roleLabel(rec.Role)
		if rec.Error {
			label += " (error)"
		}
		if rec.Timestamp != nil {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, rec.Timestamp.Local().Format("2006-01-02 15:04"))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		switch {
		case rec.ImageURL != "":
			fmt.Fprintf(&sb, "![attachment](%s)\n\n", rec.ImageURL)
		case rec.HasImage:
			sb.WriteString("*[image attached]*\n\n")
		}

		sb.WriteString(strings.TrimSpace(rec.Content))
		sb.WriteString("\n\n")

		if i < len(doc.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "You"
	case "assistant":
		return "Assistant"
	case "":
		return "Unknown"
	default:
		return strings.ToUpper(role[:1]) + role[1:]
	}
}

// escapeMarkdown escapes characters with meaning in a heading.
func escapeMarkdown(s string) string {
	return strings.NewReplacer(
		`\`, `\\`,
		"*", `\*`,
		"_", `\_`,
		"#", `\#`,
		"`", "\\`",
		"[", `\[`,
		"]", `\]`,
	).Replace(s)
}

// escapeYAML quotes a scalar when it would not parse as a plain string.
func escapeYAML(s string) string {
	if s == "" || strings.ContainsAny(s, ":#{}[]&*!|>'\"%@`,\n") || strings.TrimSpace(s) != s {
		return fmt.Sprintf("%q", s)
	}
	return s
}
