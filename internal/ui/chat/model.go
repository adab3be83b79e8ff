// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	core "github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/commands"
	"github.com/mayankbarode/OpenChat/internal/render"
)

// DefaultSidebarWidth is used when Options.SidebarWidth is unset.
const DefaultSidebarWidth = 32

// minSidebarLayout is the narrowest terminal that still shows the sidebar.
const minSidebarLayout = 72

// Options configures the chat screen.
type Options struct {
	Dispatcher *commands.Dispatcher

	// Username is shown in the header.
	Username string

	Theme        string
	ShowThinking bool
	SidebarWidth int

	// Plain disables colors and markdown styling.
	Plain bool

	Logger *slog.Logger
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	ctx        context.Context
	opts       Options
	env        *commands.Env
	dispatcher *commands.Dispatcher
	completer  *commands.Completer
	logger     *slog.Logger

	sender *sender
	unsub  []func()

	keys     KeyMap
	help     help.Model
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	renderer *render.Renderer

	width       int
	height      int
	ready       bool
	snapshot    core.Snapshot
	showSidebar bool
	notice      string
	noticeErr   bool
}

// New builds the chat screen and subscribes it to the controller and the
// conversation list. Call Close when done.
func New(ctx context.Context, opts Options) Model {
	if opts.SidebarWidth <= 0 {
		opts.SidebarWidth = DefaultSidebarWidth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	env := opts.Dispatcher.Env()

	input := textinput.New()
	input.Placeholder = "Message, or /help"
	input.Prompt = "› "
	input.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = mutedStyle

	m := Model{
		ctx:         ctx,
		opts:        opts,
		env:         env,
		dispatcher:  opts.Dispatcher,
		completer:   commands.NewCompleter(opts.Dispatcher.Registry(), env),
		logger:      logger,
		sender:      &sender{},
		keys:        DefaultKeyMap(),
		help:        help.New(),
		viewport:    viewport.New(0, 0),
		input:       input,
		spinner:     sp,
		snapshot:    env.Chat().Snapshot(),
		showSidebar: true,
	}

	ctrl := env.Chat()
	m.unsub = append(m.unsub,
		ctrl.Subscribe(func(s core.Snapshot) { m.sender.Send(SnapshotMsg{Snapshot: s}) }),
		env.Sidebar().Watch(ctx, ctrl.OnConversationChange),
	)
	env.Sidebar().OnUpdate(func() { m.sender.Send(SidebarMsg{}) })
	return m
}

// Close removes the subscriptions made by New.
func (m Model) Close() {
	for _, fn := range m.unsub {
		fn()
	}
}

// Init starts the cursor, the spinner and the first conversation list fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.refreshSidebar())
}

func (m Model) refreshSidebar() tea.Cmd {
	ctx, sb, logger := m.ctx, m.env.Sidebar(), m.logger
	return func() tea.Msg {
		if err := sb.Refresh(ctx); err != nil {
			logger.Warn("conversation list unavailable", "error", err)
		}
		return SidebarMsg{}
	}
}

// Run shows the chat screen until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	m := New(ctx, opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	m.sender.set(p.Send)
	_, err := p.Run()
	m.sender.set(nil)
	m.env.Chat().CancelActiveStream()
	return err
}

// sender forwards callbacks from other goroutines into the program. Messages
// sent before the program starts or after it ends are dropped.
type sender struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

func (s *sender) set(fn func(tea.Msg)) {
	s.mu.Lock()
	s.send = fn
	s.mu.Unlock()
}

// Send delivers msg to the program.
func (s *sender) Send(msg tea.Msg) {
	s.mu.Lock()
	fn := s.send
	s.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}
