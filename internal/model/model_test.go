// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_StreamingLifecycle(t *testing.T) {
	msg := NewStreamingMessage("a1")
	require.True(t, msg.Streaming)
	assert.Equal(t, RoleAssistant, msg.Role)

	msg.AppendToken("Hel")
	msg.AppendToken("lo")
	assert.Equal(t, "Hello", msg.GetDisplayContent())
	assert.Empty(t, msg.Content, "content is only set on finalize")

	msg.FinalizeStream()
	assert.False(t, msg.Streaming)
	assert.Equal(t, "Hello", msg.Content)

	// Tokens after finalize are ignored.
	msg.AppendToken("!")
	assert.Equal(t, "Hello", msg.GetDisplayContent())
}

func TestMessage_CloneIsIndependent(t *testing.T) {
	msg := NewStreamingMessage("a1")
	msg.AppendToken("partial")

	clone := msg.Clone()
	assert.Equal(t, "partial", clone.GetDisplayContent())
	assert.True(t, clone.Streaming)

	msg.AppendToken(" more")
	assert.Equal(t, "partial", clone.GetDisplayContent())
	assert.Equal(t, "partial more", msg.GetDisplayContent())
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage("boom")
	assert.True(t, msg.Synthetic)
	assert.Equal(t, RoleAssistant, msg.Role)
	assert.Equal(t, "Error: boom", msg.Content)
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.False(t, seen[id], "duplicate id %s", id)
		require.True(t, strings.HasPrefix(id, "msg_"))
		seen[id] = true
	}
}

func TestMessage_Preview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		maxLen  int
		want    string
	}{
		{"short", "hi there", 50, "hi there"},
		{"collapses whitespace", "hi\n\n  there", 50, "hi there"},
		{"truncates", "abcdefghij", 8, "abcde..."},
		{"unicode", "héllo wörld", 8, "héllo..."},
		{"tiny limit", "abcdef", 2, "ab"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := NewMessage(RoleUser, tc.content)
			assert.Equal(t, tc.want, msg.Preview(tc.maxLen))
		})
	}
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func buildSession(ids ...string) *Session {
	s := NewSession()
	for i, id := range ids {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msg := NewMessage(role, "content "+id)
		msg.ID = id
		s.Append(msg)
	}
	return s
}

func TestSession_TruncateBefore(t *testing.T) {
	s := buildSession("u1", "a1", "u2", "a2")

	require.True(t, s.TruncateBefore("u2"))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "a1", s.Last().ID)

	assert.False(t, s.TruncateBefore("missing"))
	assert.Equal(t, 2, s.Len())

	require.True(t, s.TruncateBefore("u1"))
	assert.True(t, s.IsEmpty())
}

func TestSession_TruncatePanicsOutOfRange(t *testing.T) {
	s := buildSession("u1")
	assert.Panics(t, func() { s.Truncate(2) })
	assert.Panics(t, func() { s.Truncate(-1) })
	assert.NotPanics(t, func() { s.Truncate(1) })
}

func TestSession_AssignConversationFirstWins(t *testing.T) {
	s := NewSession()
	assert.False(t, s.AssignConversation(""))
	assert.True(t, s.AssignConversation("c1"))
	assert.False(t, s.AssignConversation("c2"))
	assert.Equal(t, "c1", s.ConversationID)
}

func TestSession_HistoryExcludesSynthetic(t *testing.T) {
	s := buildSession("u1")
	s.Append(NewErrorMessage("network down"))
	s.Append(NewUserMessage("again", ""))

	history := s.History()
	require.Len(t, history, 2)
	for _, msg := range history {
		assert.False(t, msg.Synthetic)
	}
}

func TestSession_PrecedingUser(t *testing.T) {
	s := buildSession("u1", "a1", "u2", "a2")

	assert.Equal(t, "u2", s.PrecedingUser(3).ID)
	assert.Equal(t, "u2", s.PrecedingUser(2).ID)
	assert.Equal(t, "u1", s.PrecedingUser(1).ID)
	assert.Equal(t, "u2", s.PrecedingUser(99).ID)

	only := buildSession()
	only.Append(NewMessage(RoleAssistant, "hello"))
	assert.Nil(t, only.PrecedingUser(0))
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := buildSession("u1", "a1")
	s.ConversationID = "c1"

	clone := s.Clone()
	clone.Messages[0].Content = "changed"
	clone.Append(NewMessage(RoleUser, "extra"))

	assert.Equal(t, "content u1", s.Messages[0].Content)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "c1", clone.ConversationID)
}

func TestSession_Title(t *testing.T) {
	assert.Equal(t, "New Chat", NewSession().Title())

	s := buildSession("u1")
	assert.Equal(t, "content u1", s.Title())
}

func TestSession_Streaming(t *testing.T) {
	s := buildSession("u1")
	assert.Nil(t, s.Streaming())

	s.Append(NewStreamingMessage("a1"))
	require.NotNil(t, s.Streaming())
	assert.Equal(t, "a1", s.Streaming().ID)
	assert.True(t, s.IsTrailing("a1"))
}

// =============================================================================
// PROVIDER TESTS
// =============================================================================

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider(" OpenAI ")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p)

	_, err = ParseProvider("mistral")
	assert.Error(t, err)
}

func TestProvider_RequiresAPIKey(t *testing.T) {
	for _, p := range Providers {
		assert.Equal(t, p != ProviderVLLM, p.RequiresAPIKey(), p.String())
	}
}

func TestSupportsVision(t *testing.T) {
	tests := map[string]bool{
		"gpt-4o":                true,
		"gpt-4o-mini":           true,
		"gpt-4-turbo":           true,
		"gemini-1.5-pro":        true,
		"gemini-2.0-flash":      true,
		"llama-3.2-vision":      true,
		"gpt-3.5-turbo":         false,
		"claude-3-haiku":        false,
		"meta-llama/Llama-3-8b": false,
	}
	for name, want := range tests {
		assert.Equal(t, want, SupportsVision(name), name)
	}
}

func TestPickModel(t *testing.T) {
	assert.Equal(t, "gpt-4o", PickModel([]string{"gpt-4o-mini", "gpt-4o"}, "gpt-4o"))
	assert.Equal(t, "gpt-4o-mini", PickModel([]string{"gpt-4o-mini", "gpt-4o"}, "claude-3"))
	assert.Equal(t, "claude-3", PickModel(nil, "claude-3"))
}
