// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/backend/fakebackend"
)

func newAuthedClient(t *testing.T) (*backend.Client, *fakebackend.Server) {
	t.Helper()
	srv := fakebackend.New(t)
	client := backend.NewClient(srv.URL).WithToken(srv.IssueToken("alice"))
	return client, srv
}

func drain(t *testing.T, stream *backend.Stream) []backend.Event {
	t.Helper()
	defer stream.Close()
	var events []backend.Event
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestStreamChat_EchoRoundTrip(t *testing.T) {
	client, srv := newAuthedClient(t)
	ctx := context.Background()

	stream, err := client.StreamChat(ctx, backend.ChatRequest{
		Provider: "openai",
		Model:    "gpt-4o",
		APIKey:   "sk-test",
		Messages: []backend.ChatMessage{{Role: "user", Content: "hello there"}},
	})
	require.NoError(t, err)

	events := drain(t, stream)
	require.NotEmpty(t, events)
	assert.Equal(t, backend.EventConversation, events[0].Type)
	assert.Equal(t, backend.EventDone, events[len(events)-1].Type)

	var text strings.Builder
	for _, ev := range events {
		if ev.Type == backend.EventDelta {
			text.WriteString(ev.Text)
		}
	}
	assert.Equal(t, "echo: hello there", text.String())

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Stream)
	assert.Equal(t, "sk-test", reqs[0].APIKey)

	conv, ok := srv.Conversation(events[0].Text)
	require.True(t, ok)
	assert.Len(t, conv.Messages, 2)
}

func TestStreamChat_Unauthorized(t *testing.T) {
	srv := fakebackend.New(t)
	client := backend.NewClient(srv.URL).WithToken("bogus")

	_, err := client.StreamChat(context.Background(), backend.ChatRequest{
		Messages: []backend.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrAuthExpired)

	var apiErr *backend.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Could not validate credentials", apiErr.Detail)
}

func TestUnauthorizedHandler(t *testing.T) {
	srv := fakebackend.New(t)
	var rejected []string
	client := backend.NewClient(srv.URL).WithToken("bogus").
		WithUnauthorizedHandler(func(token string) { rejected = append(rejected, token) })
	ctx := context.Background()

	_, err := client.StreamChat(ctx, backend.ChatRequest{
		Messages: []backend.ChatMessage{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, backend.ErrAuthExpired)
	_, err = client.ListConversations(ctx)
	assert.ErrorIs(t, err, backend.ErrAuthExpired)
	assert.Equal(t, []string{"bogus", "bogus"}, rejected)

	// A failed login carries no bearer token and is not a rejection.
	_, err = client.Login(ctx, "alice", "wrong")
	require.Error(t, err)
	_, err = client.GetConversation(ctx, "conv-missing")
	require.Error(t, err)
	assert.Len(t, rejected, 3)
}

func TestStreamChat_ScriptedErrorStatus(t *testing.T) {
	client, srv := newAuthedClient(t)
	srv.QueueStream(fakebackend.StreamScript{Status: http.StatusBadRequest, Detail: "Unsupported provider"})

	_, err := client.StreamChat(context.Background(), backend.ChatRequest{})
	var apiErr *backend.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Unsupported provider", apiErr.Message())
	assert.False(t, errors.Is(err, backend.ErrAuthExpired))
}

func TestStreamChat_CancelAbortsRead(t *testing.T) {
	client, srv := newAuthedClient(t)
	srv.QueueStream(fakebackend.StreamScript{
		Lines: []string{`data: {"content":"partial"}`},
		Block: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.StreamChat(ctx, backend.ChatRequest{})
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial", ev.Text)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Next()
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("read was not aborted by cancellation")
	}
}

// =============================================================================
// ERROR RESPONSES
// =============================================================================

func TestAPIError_DetailShapes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"string detail", 400, `{"detail":"Username already taken"}`, "Username already taken"},
		{"validation list", 422, `{"detail":[{"loc":["body","password"],"msg":"field required"}]}`, `[{"loc":["body","password"],"msg":"field required"}]`},
		{"plain text", 502, "Bad Gateway\n", "Bad Gateway"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := backend.NewClient(server.URL).ListConversations(context.Background())
			var apiErr *backend.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.want, apiErr.Detail)
		})
	}
}

func TestAPIError_IsNotFound(t *testing.T) {
	client, _ := newAuthedClient(t)
	_, err := client.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, backend.ErrNotFound)
	assert.False(t, errors.Is(err, backend.ErrAuthExpired))
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func TestConversations_Lifecycle(t *testing.T) {
	client, srv := newAuthedClient(t)
	ctx := context.Background()

	id := srv.AddConversation("first",
		backend.HistoryMessage{Role: "user", Content: "q"},
		backend.HistoryMessage{Role: "assistant", Content: "a"},
	)

	list, err := client.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.False(t, list[0].UpdatedAt.IsZero())

	conv, err := client.GetConversation(ctx, id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "assistant", conv.Messages[1].Role)

	require.NoError(t, client.RenameConversation(ctx, id, "renamed & more"))
	stored, _ := srv.Conversation(id)
	assert.Equal(t, "renamed & more", stored.Title)

	require.NoError(t, client.DeleteConversation(ctx, id))
	_, ok := srv.Conversation(id)
	assert.False(t, ok)

	err = client.DeleteConversation(ctx, id)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestGetConversation_LargeInlineImages(t *testing.T) {
	client, srv := newAuthedClient(t)

	// Two 10 MiB images encoded as data URLs.
	image := "data:image/png;base64," + strings.Repeat("A", int(backend.MaxResponseSize)*4/3)
	id := srv.AddConversation("photos",
		backend.HistoryMessage{Role: "user", Content: "first", ImageURL: image},
		backend.HistoryMessage{Role: "assistant", Content: "nice"},
		backend.HistoryMessage{Role: "user", Content: "second", ImageURL: image},
	)

	conv, err := client.GetConversation(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, image, conv.Messages[2].ImageURL)
}

func TestTimestamp_Formats(t *testing.T) {
	tests := []struct {
		in   string
		zero bool
	}{
		{`"2024-05-01T10:20:30.123456"`, false},
		{`"2024-05-01T10:20:30"`, false},
		{`"2024-05-01T10:20:30Z"`, false},
		{`"2024-05-01T10:20:30+02:00"`, false},
		{`null`, true},
		{`""`, true},
	}
	for _, tc := range tests {
		var ts backend.Timestamp
		require.NoError(t, json.Unmarshal([]byte(tc.in), &ts), tc.in)
		assert.Equal(t, tc.zero, ts.IsZero(), tc.in)
	}

	var ts backend.Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

// =============================================================================
// ACCOUNT
// =============================================================================

func TestLogin(t *testing.T) {
	srv := fakebackend.New(t)
	client := backend.NewClient(srv.URL).WithToken("stale")
	ctx := context.Background()

	tok, err := client.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", tok.Username)
	assert.NotEmpty(t, tok.AccessToken)
	assert.Equal(t, "stale", client.Token(), "login does not replace the token by itself")

	_, err = client.Login(ctx, "alice", "wrong")
	var apiErr *backend.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Incorrect username or password", apiErr.Detail)
}

func TestSignupAndCheckUsername(t *testing.T) {
	srv := fakebackend.New(t)
	client := backend.NewClient(srv.URL)
	ctx := context.Background()

	available, err := client.CheckUsername(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, available)

	tok, err := client.Signup(ctx, backend.SignupRequest{Username: "bob", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "bob", tok.Username)

	available, err = client.CheckUsername(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, available)

	_, err = client.Signup(ctx, backend.SignupRequest{Username: "bob", Password: "hunter22"})
	assert.Error(t, err)
}

func TestChangePassword(t *testing.T) {
	client, _ := newAuthedClient(t)
	ctx := context.Background()

	err := client.ChangePassword(ctx, "nope", "newpass1")
	require.Error(t, err)

	require.NoError(t, client.ChangePassword(ctx, "secret1", "newpass1"))
	_, err = client.Login(ctx, "alice", "newpass1")
	assert.NoError(t, err)
}

func TestSettings_RoundTrip(t *testing.T) {
	client, srv := newAuthedClient(t)
	ctx := context.Background()

	provider := "anthropic"
	require.NoError(t, client.UpdateSettings(ctx, backend.SettingsUpdate{
		APIKeys:          map[string]string{"anthropic": "sk-ant"},
		SelectedProvider: &provider,
	}))

	settings, err := client.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", settings.APIKeys["anthropic"])
	assert.Equal(t, "anthropic", settings.SelectedProvider)
	assert.Equal(t, "anthropic", srv.Settings().SelectedProvider)
}

func TestListModels(t *testing.T) {
	client, _ := newAuthedClient(t)

	models, err := client.ListModels(context.Background(), "openai", "sk-test", "")
	require.NoError(t, err)
	assert.Contains(t, models, "gpt-4o")

	_, err = client.ListModels(context.Background(), "nope", "", "")
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "none", backend.Fingerprint(""))
	fp := backend.Fingerprint("sk-secret-key")
	assert.Len(t, fp, 8)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, backend.Fingerprint("sk-secret-key"))
}
