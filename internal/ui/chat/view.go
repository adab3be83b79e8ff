// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	core "github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/model"
	"github.com/mayankbarode/OpenChat/internal/util"
)

// View renders the screen.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	body := m.viewport.View()
	if m.sidebarVisible() {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), body)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		inputStyle.Width(m.width).Render(m.input.View()),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	cfg := m.env.Config()
	left := titleStyle.Render("OpenChat") + " " + util.Truncate(m.env.Title(), max(m.width/2, 10))
	right := mutedStyle.Render(fmt.Sprintf("%s · %s · %s",
		m.opts.Username, cfg.Provider().DisplayName(), cfg.Chat.Model))
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + right
}

// renderFooter shows activity, the pending attachment and key help.
func (m Model) renderFooter() string {
	var parts []string
	switch m.snapshot.State {
	case core.StateSending:
		parts = append(parts, m.spinner.View()+" Sending")
	case core.StateStreaming:
		parts = append(parts, m.spinner.View()+" Streaming (esc to stop)")
	case core.StateLoading:
		parts = append(parts, m.spinner.View()+" Loading conversation")
	}
	if att := m.env.Attachment(); att != nil {
		parts = append(parts, warningStyle.Render("attached: "+att.String()))
	}
	if n := m.snapshot.Malformed; n > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d malformed records skipped", n)))
	}
	parts = append(parts, m.help.ShortHelpView(m.keys.ShortHelp()))
	return strings.Join(parts, "  ")
}

func (m Model) renderSidebar() string {
	width := m.opts.SidebarWidth
	sb := m.env.Sidebar()

	lines := []string{titleStyle.Render("Conversations"), ""}
	if err := sb.Err(); err != nil {
		lines = append(lines, errorStyle.Render(util.Truncate("Could not refresh", width)))
	}
	items := sb.Lines(width)
	if len(items) == 0 {
		lines = append(lines, mutedStyle.Render("No conversations yet."))
	}
	for _, line := range items {
		if strings.HasPrefix(line, "›") {
			line = activeItemStyle.Render(line)
		}
		lines = append(lines, line)
	}

	height := m.viewport.Height
	if len(lines) > height {
		lines = lines[:height]
	}
	return sidebarStyle.Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

// renderMessages renders the conversation and the latest command output.
func (m Model) renderMessages() string {
	var b strings.Builder
	if len(m.snapshot.Messages) == 0 && m.snapshot.State != core.StateLoading {
		b.WriteString(mutedStyle.Render("Start typing to chat. /help lists commands; /open N continues a conversation."))
		b.WriteString("\n")
	}
	for i, msg := range m.snapshot.Messages {
		b.WriteString(messageHeader(i+1, msg))
		b.WriteString("\n")
		if m.renderer != nil {
			b.WriteString(m.renderer.Message(msg))
		} else {
			b.WriteString(msg.GetDisplayContent())
		}
		if msg.Streaming {
			b.WriteString(m.spinner.View())
		}
		b.WriteString("\n\n")
	}
	if m.notice != "" {
		style := mutedStyle
		if m.noticeErr {
			style = errorStyle
		}
		b.WriteString(style.Render(m.notice))
		b.WriteString("\n")
	}
	return b.String()
}

func messageHeader(n int, msg *model.Message) string {
	label := fmt.Sprintf("#%d %s", n, msg.Role.DisplayName())
	if msg.Role == model.RoleUser {
		return userStyle.Render(label)
	}
	return assistantStyle.Render(label)
}
