// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "fmt"

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is the ordered message list of the active conversation.
//
// A Session is a client-side projection of backend history. It is not safe
// for concurrent use; the chat controller owns it and serializes access.
type Session struct {
	// ConversationID is empty until the backend assigns one.
	ConversationID string `json:"conversation_id,omitempty"`

	// Messages in canonical conversation order.
	Messages []*Message `json:"messages"`
}

// NewSession creates an empty session with no conversation identity.
func NewSession() *Session {
	return &Session{Messages: make([]*Message, 0)}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the end of the session.
func (s *Session) Append(msg *Message) {
	s.Messages = append(s.Messages, msg)
}

// Len returns the number of messages.
func (s *Session) Len() int {
	return len(s.Messages)
}

// IsEmpty returns true if there are no messages.
func (s *Session) IsEmpty() bool {
	return len(s.Messages) == 0
}

// IndexOf returns the position of the message with the given id, or -1.
func (s *Session) IndexOf(id string) int {
	for i, msg := range s.Messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the message with the given id, or nil.
func (s *Session) Get(id string) *Message {
	if i := s.IndexOf(id); i >= 0 {
		return s.Messages[i]
	}
	return nil
}

// At returns the message at index i, or nil when out of range.
func (s *Session) At(i int) *Message {
	if i < 0 || i >= len(s.Messages) {
		return nil
	}
	return s.Messages[i]
}

// Last returns the most recent message, or nil if empty.
func (s *Session) Last() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// IsTrailing reports whether id names the last message.
func (s *Session) IsTrailing(id string) bool {
	last := s.Last()
	return last != nil && last.ID == id
}

// Streaming returns the assistant message currently being streamed, or nil.
func (s *Session) Streaming() *Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Streaming {
			return s.Messages[i]
		}
	}
	return nil
}

// PrecedingUser returns the nearest user message at or before index i.
func (s *Session) PrecedingUser(i int) *Message {
	if i >= len(s.Messages) {
		i = len(s.Messages) - 1
	}
	for ; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i]
		}
	}
	return nil
}

// Truncate keeps only the messages strictly before index i.
func (s *Session) Truncate(i int) {
	if i < 0 || i > len(s.Messages) {
		panic(fmt.Sprintf("model: truncate index %d out of range [0,%d]", i, len(s.Messages)))
	}
	// Clear the dropped tail so the backing array does not pin old messages.
	for j := i; j < len(s.Messages); j++ {
		s.Messages[j] = nil
	}
	s.Messages = s.Messages[:i]
}

// TruncateBefore keeps only the messages strictly before the one with the
// given id. It returns false, leaving the session unchanged, if id is absent.
func (s *Session) TruncateBefore(id string) bool {
	i := s.IndexOf(id)
	if i < 0 {
		return false
	}
	s.Truncate(i)
	return true
}

// =============================================================================
// IDENTITY
// =============================================================================

// AssignConversation records the backend-assigned conversation id.
// Only the first assignment takes effect; it returns true when it did.
func (s *Session) AssignConversation(id string) bool {
	if id == "" || s.ConversationID != "" {
		return false
	}
	s.ConversationID = id
	return true
}

// Reset replaces the session wholesale with a new identity and history.
func (s *Session) Reset(conversationID string, messages []*Message) {
	if messages == nil {
		messages = make([]*Message, 0)
	}
	s.ConversationID = conversationID
	s.Messages = messages
}

// =============================================================================
// SERIALIZATION HELPERS
// =============================================================================

// History returns the messages that belong in an outgoing request:
// everything except synthetic error reports.
func (s *Session) History() []*Message {
	out := make([]*Message, 0, len(s.Messages))
	for _, msg := range s.Messages {
		if msg.Synthetic {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// Clone creates a deep copy of the session.
func (s *Session) Clone() *Session {
	clone := &Session{
		ConversationID: s.ConversationID,
		Messages:       make([]*Message, len(s.Messages)),
	}
	for i, msg := range s.Messages {
		clone.Messages[i] = msg.Clone()
	}
	return clone
}

// Title derives a display title from the first user message.
func (s *Session) Title() string {
	for _, msg := range s.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			return msg.Preview(50)
		}
	}
	return "New Chat"
}
