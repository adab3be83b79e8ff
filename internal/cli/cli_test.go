// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayankbarode/OpenChat/internal/auth"
	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/backend/fakebackend"
	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/commands"
	"github.com/mayankbarode/OpenChat/internal/config"
	"github.com/mayankbarode/OpenChat/internal/model"
	"github.com/mayankbarode/OpenChat/internal/render"
)

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	srv     *fakebackend.Server
	home    string
	cfgPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	home := t.TempDir()
	t.Setenv("OPENCHAT_HOME", home)
	return &harness{
		srv:     fakebackend.New(t),
		home:    home,
		cfgPath: filepath.Join(home, "config.toml"),
	}
}

// run executes one command line against the fake backend.
func (h *harness) run(stdin string, args ...string) (string, error) {
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", h.cfgPath, "--backend", h.srv.URL}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := h.run(stdin, args...)
	require.NoError(t, err, strings.Join(args, " "))
	return out
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	h.mustRun(t, "secret1\n", "login", "-u", "alice")
}

// =============================================================================
// AUTH COMMANDS
// =============================================================================

func TestLogin_SavesSession(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "secret1\n", "login", "-u", "alice")
	assert.Contains(t, out, "Logged in as alice")

	_, err := os.Stat(filepath.Join(h.home, auth.SessionFile))
	require.NoError(t, err)

	out = h.mustRun(t, "", "whoami")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, h.srv.URL)
}

func TestLogin_PromptsForUsername(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "alice\nsecret1\n", "login")
	assert.Contains(t, out, "Logged in as alice")
}

func TestLogin_WrongPassword(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("nope\n", "login", "-u", "alice")
	require.Error(t, err)

	_, err = h.run("", "whoami")
	assert.Equal(t, ExitAuthError, GetExitCode(err))
}

func TestSignup_Mismatch(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("\nsecret1\nsecret2\n", "signup", "-u", "bob")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestSignup_CreatesAccount(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun(t, "bob@example.com\nHunter22\nHunter22\n", "signup", "-u", "bob")
	assert.Contains(t, out, "Logged in as bob")
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	out := h.mustRun(t, "", "logout")
	assert.Contains(t, out, "Logged out alice")

	out = h.mustRun(t, "", "logout")
	assert.Contains(t, out, "Not logged in")
}

func TestWhoami_NotLoggedIn(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("", "whoami")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrNotAuthenticated))
	assert.Contains(t, err.Error(), "openchat login")
}

// =============================================================================
// CHAT
// =============================================================================

func TestChat_OneShotMessage(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.mustRun(t, "", "settings", "set", "providers.openai.api_key", "sk-test", "--local")

	out := h.mustRun(t, "", "chat", "-m", "hello there")
	assert.Contains(t, out, "echo: hello there")
}

func TestChat_MissingKeyIsConfigError(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	_, err := h.run("", "chat", "-m", "hello")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

func TestChat_ContinuesConversation(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.mustRun(t, "", "settings", "set", "providers.openai.api_key", "sk-test", "--local")
	id := h.srv.AddConversation("Earlier",
		backend.HistoryMessage{Role: "user", Content: "first"},
		backend.HistoryMessage{Role: "assistant", Content: "echo: first"},
	)

	out := h.mustRun(t, "", "chat", "-c", id, "-m", "second")
	assert.Contains(t, out, "1. You")
	assert.Contains(t, out, "echo: second")

	conv, ok := h.srv.Conversation(id)
	require.True(t, ok)
	assert.Len(t, conv.Messages, 4)
}

// =============================================================================
// CONVERSATIONS / EXPORT / MODELS / SETTINGS
// =============================================================================

func TestConversations_ListRenameDelete(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	out := h.mustRun(t, "", "conversations")
	assert.Contains(t, out, "No conversations yet.")

	id := h.srv.AddConversation("Weekend trip planning")
	out = h.mustRun(t, "", "conversations", "list")
	assert.Contains(t, out, "1. Weekend trip planning")

	out = h.mustRun(t, "", "conversations", "rename", "1", "Holiday", "ideas")
	assert.Contains(t, out, `Renamed to "Holiday ideas".`)
	conv, _ := h.srv.Conversation(id)
	assert.Equal(t, "Holiday ideas", conv.Title)

	out = h.mustRun(t, "", "conversations", "delete", "holiday")
	assert.Contains(t, out, `Deleted "Holiday ideas".`)
	_, ok := h.srv.Conversation(id)
	assert.False(t, ok)
}

func TestConversations_RevokedTokenLogsOut(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.srv.RevokeAll()

	_, err := h.run("", "conversations", "list")
	require.Error(t, err)
	assert.Equal(t, ExitAuthError, GetExitCode(err))

	_, err = os.Stat(filepath.Join(h.home, auth.SessionFile))
	assert.True(t, os.IsNotExist(err))
	_, err = h.run("", "whoami")
	assert.ErrorIs(t, err, backend.ErrNotAuthenticated)
}

func TestConversations_Show(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.srv.AddConversation("Greeting",
		backend.HistoryMessage{Role: "user", Content: "hi"},
		backend.HistoryMessage{Role: "assistant", Content: "hello back"},
	)

	out := h.mustRun(t, "", "conversations", "show", "1")
	assert.Contains(t, out, "Greeting")
	assert.Contains(t, out, "2. Assistant")
	assert.Contains(t, out, "hello back")
}

func TestConversations_UnknownReference(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	_, err := h.run("", "conversations", "show", "7")
	require.Error(t, err)
}

func TestExport_JSON(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.srv.AddConversation("Greeting",
		backend.HistoryMessage{Role: "user", Content: "hi"},
		backend.HistoryMessage{Role: "assistant", Content: "hello back"},
	)
	path := filepath.Join(t.TempDir(), "greeting.json")

	out := h.mustRun(t, "", "export", "1", "-o", path)
	assert.Contains(t, out, "Exported 2 messages")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Title    string `json:"title"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Greeting", doc.Title)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, "hello back", doc.Messages[1].Content)
}

func TestModels(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	_, err := h.run("", "models")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")

	h.mustRun(t, "", "settings", "set", "providers.openai.api_key", "sk-test", "--local")
	out := h.mustRun(t, "", "models")
	assert.Contains(t, out, "› gpt-4o")
	assert.Contains(t, out, "gpt-4o-mini")

	out = h.mustRun(t, "", "models", "--provider", "vllm")
	assert.Contains(t, out, "meta-llama/Llama-3-8b")
}

func TestSettings_SetGet(t *testing.T) {
	h := newHarness(t)

	h.mustRun(t, "", "settings", "set", "chat.model", "gpt-4o-mini", "--local")
	out := h.mustRun(t, "", "settings", "get", "chat.model")
	assert.Equal(t, "gpt-4o-mini\n", out)

	_, err := h.run("", "settings", "set", "chat.provider", "mystery", "--local")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))

	_, err = h.run("", "settings", "get", "nope")
	require.Error(t, err)
}

func TestSettings_GetRedactsKeys(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "", "settings", "set", "providers.openai.api_key", "sk-secret-value", "--local")

	out := h.mustRun(t, "", "settings", "get", "providers.openai.api_key")
	assert.NotContains(t, out, "sk-secret-value")
	assert.Contains(t, out, "REDACTED")

	out = h.mustRun(t, "", "settings", "get", "providers.openai.api_key", "--reveal")
	assert.Equal(t, "sk-secret-value\n", out)

	out = h.mustRun(t, "", "settings", "show")
	assert.NotContains(t, out, "sk-secret-value")
}

func TestSettings_PushAndPull(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	h.mustRun(t, "", "settings", "set", "providers.openai.api_key", "sk-local", "--local")

	h.mustRun(t, "", "settings", "push")
	assert.Equal(t, "sk-local", h.srv.Settings().APIKeys["openai"])

	h.mustRun(t, "", "settings", "set", "chat.model", "gpt-4o-mini", "--local")
	out := h.mustRun(t, "", "settings", "pull")
	assert.Contains(t, out, "Settings updated")
	out = h.mustRun(t, "", "settings", "get", "chat.model")
	assert.Equal(t, "gpt-4o\n", out)
}

func TestSettings_Path(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "", "settings", "path")
	assert.Equal(t, h.cfgPath+"\n", out)
}

func TestVersion(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "openchat "+Version)
}

// =============================================================================
// EXIT CODES
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitGeneralError},
		{"form", &auth.FormError{Field: "password", Reason: "too short"}, ExitUsageError},
		{"validation", &chat.ValidationError{Reason: "empty"}, ExitUsageError},
		{"usage", &commands.UsageError{Usage: "/open N"}, ExitUsageError},
		{"config", config.ValidateErrors{{Field: "chat.provider", Message: "unknown"}}, ExitConfigError},
		{"expired", fmt.Errorf("wrapped: %w", backend.ErrAuthExpired), ExitAuthError},
		{"not logged in", backend.ErrNotAuthenticated, ExitAuthError},
		{"not found", backend.ErrNotFound, ExitNotFoundError},
		{"transport", &chat.TransportError{Err: errors.New("reset")}, ExitNetworkError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GetExitCode(tc.err))
		})
	}
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

func newTestPrinter(t *testing.T) (*streamPrinter, *bytes.Buffer) {
	t.Helper()
	r, err := render.New(render.Options{Plain: true})
	require.NoError(t, err)
	var buf bytes.Buffer
	return newStreamPrinter(&buf, r), &buf
}

func TestStreamPrinter_PrintsDeltas(t *testing.T) {
	p, buf := newTestPrinter(t)
	user := model.NewUserMessage("hi", "")
	p.reset(chat.Snapshot{Version: 1, Messages: []*model.Message{user}})

	reply := model.NewStreamingMessage("a1")
	reply.AppendToken("Hel")
	p.update(chat.Snapshot{Version: 2, Messages: []*model.Message{user, reply}})
	reply.AppendToken("lo")
	p.update(chat.Snapshot{Version: 4, Messages: []*model.Message{user, reply}})

	stale := model.NewStreamingMessage("a1")
	stale.AppendToken("Hel")
	p.update(chat.Snapshot{Version: 3, Messages: []*model.Message{user, stale}})

	reply.FinalizeStream()
	p.update(chat.Snapshot{Version: 5, Messages: []*model.Message{user, reply}})

	assert.False(t, p.finish())
	assert.Equal(t, "assistant\nHello\n", buf.String())
}

func TestStreamPrinter_SkipsKnownMessages(t *testing.T) {
	p, buf := newTestPrinter(t)
	old := model.NewMessage(model.RoleAssistant, "already shown")
	p.reset(chat.Snapshot{Version: 1, Messages: []*model.Message{old}})

	p.update(chat.Snapshot{Version: 2, Messages: []*model.Message{old}})
	assert.False(t, p.finish())
	assert.Empty(t, buf.String())
}

func TestStreamPrinter_ReportsErrors(t *testing.T) {
	p, buf := newTestPrinter(t)
	p.reset(chat.Snapshot{Version: 1})

	p.update(chat.Snapshot{Version: 2, Messages: []*model.Message{model.NewErrorMessage("connection reset")}})
	assert.True(t, p.finish())
	assert.Contains(t, buf.String(), "Error: connection reset")
}
