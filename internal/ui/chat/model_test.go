// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/backend/fakebackend"
	core "github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/commands"
	"github.com/mayankbarode/OpenChat/internal/config"
)

func newTestModel(t *testing.T) (Model, *fakebackend.Server) {
	t.Helper()
	srv := fakebackend.New(t)
	client := backend.NewClient(srv.URL).WithToken(srv.IssueToken("alice"))

	cfg := config.Default()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	env := commands.NewEnv(cfg, core.New(client), client,
		commands.WithClipboard(func(string) error { return nil }),
	)

	m := New(context.Background(), Options{
		Dispatcher: commands.NewDispatcher(env),
		Username:   "alice",
		Plain:      true,
	})
	t.Cleanup(m.Close)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model), srv
}

func typeText(m Model, text string) Model {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(Model)
}

// submit presses enter and runs the resulting command to completion.
func submit(t *testing.T, m Model) Model {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	done, ok := cmd().(CommandDoneMsg)
	require.True(t, ok)
	next, _ = next.(Model).Update(done)
	return next.(Model)
}

func screen(m Model) string {
	return ansi.Strip(m.View())
}

func TestModel_SendShowsReply(t *testing.T) {
	m, _ := newTestModel(t)

	m = submit(t, typeText(m, "hello"))

	view := screen(m)
	assert.Contains(t, view, "#1 You")
	assert.Contains(t, view, "hello")
	assert.Contains(t, view, "#2 Assistant")
	assert.Contains(t, view, "echo: hello")
	assert.Empty(t, m.input.Value())
}

func TestModel_CommandOutputShownAsNotice(t *testing.T) {
	m, _ := newTestModel(t)

	m = submit(t, typeText(m, "/model gpt-4o-mini"))

	assert.Contains(t, screen(m), "Model: gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", m.env.Config().Chat.Model)
}

func TestModel_ErrorNotice(t *testing.T) {
	m, _ := newTestModel(t)

	m = submit(t, typeText(m, "/bogus"))

	assert.True(t, m.noticeErr)
	assert.Contains(t, screen(m), "/bogus")
}

func TestModel_QuitCommand(t *testing.T) {
	m, _ := newTestModel(t)

	next, cmd := m.Update(CommandDoneMsg{Input: "/quit", Result: commands.Result{Quit: true}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	_ = next
}

func TestModel_CtrlCOnEmptyInputQuits(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestModel_EscClearsInputWhenIdle(t *testing.T) {
	m, _ := newTestModel(t)
	m = typeText(m, "draft")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, cmd)
	assert.Empty(t, next.(Model).input.Value())
}

func TestModel_TabCompletesCommand(t *testing.T) {
	m, _ := newTestModel(t)
	m = typeText(m, "/hel")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, "/help ", next.(Model).input.Value())
}

func TestModel_SidebarListsConversations(t *testing.T) {
	m, srv := newTestModel(t)
	srv.AddConversation("Weekend trip planning")
	require.NoError(t, m.env.Sidebar().Refresh(context.Background()))

	next, _ := m.Update(SidebarMsg{})
	m = next.(Model)
	assert.Contains(t, screen(m), "Conversations")
	assert.Contains(t, screen(m), "Weekend trip")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlB})
	assert.NotContains(t, screen(next.(Model)), "Conversations")
}

func TestModel_IgnoresStaleSnapshots(t *testing.T) {
	m, _ := newTestModel(t)
	m = submit(t, typeText(m, "hello"))
	current := m.snapshot.Version

	next, _ := m.Update(SnapshotMsg{Snapshot: core.Snapshot{Version: current - 1}})
	m = next.(Model)
	assert.Equal(t, current, m.snapshot.Version)
	assert.Contains(t, screen(m), "echo: hello")
}

func TestCommonPrefix(t *testing.T) {
	assert.Equal(t, "/model", commonPrefix([]string{"/model ", "/models "}))
	assert.Equal(t, "/models ", commonPrefix([]string{"/models "}))
	assert.Equal(t, "", commonPrefix([]string{"/a", "/b", "x"}))
}
