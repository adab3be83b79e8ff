// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// ImageOnlyPrompt is the content sent for a turn that carries only an image.
const ImageOnlyPrompt = "What is in this image?"

// ErrorPrefix starts the content of every synthetic error message.
const ErrorPrefix = "Error: "

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a chat session.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"` // data: URL of an attached image

	// Synthetic marks a locally generated error report. Synthetic messages
	// are shown inline but never sent back to the backend.
	Synthetic bool `json:"synthetic,omitempty"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	Streaming     bool            `json:"-"`
	streamContent strings.Builder `json:"-"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message with an optional image.
func NewUserMessage(content, imageURL string) *Message {
	msg := NewMessage(RoleUser, content)
	msg.ImageURL = imageURL
	return msg
}

// NewStreamingMessage creates an assistant message that is being streamed.
// The id is allocated by the caller before the first delta arrives.
func NewStreamingMessage(id string) *Message {
	return &Message{
		ID:        id,
		Role:      RoleAssistant,
		Timestamp: time.Now(),
		Streaming: true,
	}
}

// NewErrorMessage creates a synthetic assistant message describing a failure.
func NewErrorMessage(description string) *Message {
	msg := NewMessage(RoleAssistant, ErrorPrefix+description)
	msg.Synthetic = true
	return msg
}

// NewID returns a fresh locally generated message id.
func NewID() string {
	return "msg_" + uuid.NewString()
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendToken appends a delta to a streaming message.
func (m *Message) AppendToken(token string) {
	if m.Streaming {
		m.streamContent.WriteString(token)
	}
}

// FinalizeStream completes streaming and moves the streamed text into Content.
func (m *Message) FinalizeStream() {
	if !m.Streaming {
		return
	}
	m.Content = m.streamContent.String()
	m.streamContent.Reset()
	m.Streaming = false
}

// SetContent replaces the content of the message, ending any stream.
func (m *Message) SetContent(content string) {
	m.streamContent.Reset()
	m.Streaming = false
	m.Content = content
}

// GetDisplayContent returns the content to display (streaming or final).
func (m *Message) GetDisplayContent() string {
	if m.Streaming {
		return m.streamContent.String()
	}
	return m.Content
}

// HasImage reports whether the message carries an image.
func (m *Message) HasImage() bool {
	return m.ImageURL != ""
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	content := strings.Join(strings.Fields(m.GetDisplayContent()), " ")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// Clone returns an independent copy. Content holds the current display
// content, so readers of the copy never need the stream buffer.
func (m *Message) Clone() *Message {
	c := &Message{
		ID:        m.ID,
		Role:      m.Role,
		Timestamp: m.Timestamp,
		Content:   m.GetDisplayContent(),
		ImageURL:  m.ImageURL,
		Synthetic: m.Synthetic,
		Streaming: m.Streaming,
	}
	if c.Streaming {
		c.streamContent.WriteString(c.Content)
	}
	return c
}
