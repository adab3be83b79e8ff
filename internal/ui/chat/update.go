// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	core "github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/render"
)

// Update handles input and controller events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SnapshotMsg:
		// Snapshots from different goroutines can arrive out of order.
		if msg.Snapshot.Version < m.snapshot.Version {
			return m, nil
		}
		m.snapshot = msg.Snapshot
		m.refreshContent()
		return m, nil

	case SidebarMsg:
		return m, nil

	case CommandDoneMsg:
		return m.handleDone(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctrl := m.env.Chat()
	switch {
	case key.Matches(msg, m.keys.Quit):
		ctrl.CancelActiveStream()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if ctrl.CancelActiveStream() {
			m.setNotice("Cancelled.", false)
			return m, nil
		}
		if msg.String() == "ctrl+c" && m.input.Value() == "" {
			return m, tea.Quit
		}
		m.input.Reset()
		return m, nil

	case key.Matches(msg, m.keys.ToggleSidebar):
		m.showSidebar = !m.showSidebar
		m.layout()
		return m, nil

	case key.Matches(msg, m.keys.Complete):
		m.complete()
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
		return m, nil

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.notice = ""
		m.refreshContent()
		return m, m.execute(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// execute runs a line through the dispatcher off the update loop.
func (m Model) execute(input string) tea.Cmd {
	ctx, d := m.ctx, m.dispatcher
	return func() tea.Msg {
		res, err := d.Execute(ctx, input)
		return CommandDoneMsg{Input: input, Result: res, Err: err}
	}
}

func (m Model) handleDone(msg CommandDoneMsg) (tea.Model, tea.Cmd) {
	// The final snapshot may still be in flight; take the current one.
	m.snapshot = m.env.Chat().Snapshot()

	var (
		transport *core.TransportError
		expired   *core.AuthExpiredError
	)
	switch {
	case errors.Is(msg.Err, core.ErrCanceled):
		m.setNotice("Cancelled.", false)
	case errors.As(msg.Err, &expired):
		m.setNotice("Your session expired. Quit and run `openchat login`.", true)
	case errors.As(msg.Err, &transport):
		// Already shown inline as an error message.
		m.refreshContent()
	case msg.Err != nil:
		m.setNotice(msg.Err.Error(), true)
	default:
		m.setNotice(msg.Result.Output, false)
	}

	if msg.Result.Quit {
		return m, tea.Quit
	}
	return m, nil
}

// complete expands the input with the completer. Several candidates are
// narrowed to their common prefix and listed.
func (m *Model) complete() {
	candidates := m.completer.Complete(m.input.Value())
	switch len(candidates) {
	case 0:
		return
	case 1:
		m.input.SetValue(candidates[0])
	default:
		m.input.SetValue(commonPrefix(candidates))
		m.setNotice(strings.Join(candidates, "   "), false)
	}
	m.input.CursorEnd()
}

func (m *Model) setNotice(text string, isErr bool) {
	m.notice, m.noticeErr = text, isErr
	m.refreshContent()
}

// layout sizes the components for the window.
func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	mainWidth := m.mainWidth()
	// header, input border and line, help
	bodyHeight := max(m.height-5, 1)

	m.ready = true
	m.viewport.Width, m.viewport.Height = mainWidth, bodyHeight
	m.input.Width = max(m.width-4, 10)
	m.help.Width = m.width

	if m.renderer == nil || m.renderer.Width() != mainWidth-2 {
		r, err := render.New(render.Options{
			Width:        mainWidth - 2,
			Theme:        m.opts.Theme,
			ShowThinking: m.opts.ShowThinking,
			Plain:        m.opts.Plain,
		})
		if err != nil {
			m.logger.Warn("renderer unavailable", "error", err)
		} else {
			m.renderer = r
		}
	}
	m.refreshContent()
}

// sidebarVisible reports whether the conversation list fits on screen.
func (m Model) sidebarVisible() bool {
	return m.showSidebar && m.width >= minSidebarLayout
}

func (m Model) mainWidth() int {
	if !m.sidebarVisible() {
		return m.width
	}
	return max(m.width-m.opts.SidebarWidth-2, 20)
}

// refreshContent re-renders the conversation into the viewport, following
// the bottom when the view was already there.
func (m *Model) refreshContent() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom() || m.snapshot.Busy()
	m.viewport.SetContent(m.renderMessages())
	if follow {
		m.viewport.GotoBottom()
	}
}

func commonPrefix(values []string) string {
	prefix := values[0]
	for _, v := range values[1:] {
		for !strings.HasPrefix(v, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
