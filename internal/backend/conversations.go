// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// =============================================================================
// TIMESTAMPS
// =============================================================================

// timestampLayouts are the formats the backend has been seen to emit.
// Naive ISO timestamps are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp is a time value tolerant of the backend's ISO formats and null.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// ConversationSummary is one entry of GET /conversations.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt Timestamp `json:"updated_at"`
	CreatedAt Timestamp `json:"created_at"`
}

// HistoryMessage is a stored message as returned by the backend. Stored
// messages carry no id.
type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
}

// Conversation is the full conversation returned by GET /conversations/{id}.
type Conversation struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Messages  []HistoryMessage `json:"messages"`
	UpdatedAt Timestamp        `json:"updated_at"`
}

// =============================================================================
// CONVERSATION ENDPOINTS
// =============================================================================

// ListConversations returns the user's conversations, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []ConversationSummary
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation returns a conversation with its full message history.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	var out Conversation
	if err := c.doLimited(req, &out, MaxConversationSize); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConversation removes a conversation on the backend.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// RenameConversation changes a conversation's title.
func (c *Client) RenameConversation(ctx context.Context, id, title string) error {
	query := url.Values{"title": {title}}
	req, err := c.newRequest(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), query, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}
