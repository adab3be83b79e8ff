// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette colors adapt to the terminal background.
var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#58A6FF"}
	colorUser    = lipgloss.AdaptiveColor{Light: "#1F6FEB", Dark: "#79C0FF"}
	colorBot     = lipgloss.AdaptiveColor{Light: "#8250DF", Dark: "#D2A8FF"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#30363D"}
	colorError   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#FF7B72"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorUser)

	assistantStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorBot)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	sidebarStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(colorBorder).
			PaddingRight(1)

	activeItemStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(colorBorder)
)
