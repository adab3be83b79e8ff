// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/commands"
	"github.com/mayankbarode/OpenChat/internal/model"
	"github.com/mayankbarode/OpenChat/internal/render"
	"github.com/mayankbarode/OpenChat/internal/util"
)

// HistoryFile holds REPL input history inside the state directory.
const HistoryFile = "chat_history"

func newChatCmd(app *App) *cobra.Command {
	var (
		conversation string
		message      string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat line by line in the terminal",
		Long: `Start a line-based chat. Replies stream as they arrive; press Ctrl+C
to stop a reply and Ctrl+D to leave. Type /help for commands.

With --message a single turn is sent and the reply printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			s, err := newChatSession(cmd.Context(), app, conversation)
			if err != nil {
				return err
			}
			if message != "" {
				_, err := s.execute(cmd.Context(), message)
				return err
			}
			return s.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "continue a conversation by id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	return cmd
}

// =============================================================================
// CHAT SESSION
// =============================================================================

// chatSession is one line-based chat: a controller, the shared command
// environment and a printer following the controller's snapshots.
type chatSession struct {
	app        *App
	env        *commands.Env
	dispatcher *commands.Dispatcher
	renderer   *render.Renderer
	printer    *streamPrinter
}

func newChatSession(ctx context.Context, app *App, conversationID string) (*chatSession, error) {
	renderer, err := render.New(render.Options{
		Width:        GetTerminalWidth(),
		Theme:        app.cfg.UI.Theme,
		ShowThinking: app.cfg.UI.ShowThinking,
		Plain:        !ColorsEnabled(),
	})
	if err != nil {
		return nil, err
	}

	ctrl := chat.New(app.client, chat.WithAuthHandler(app.auth), chat.WithLogger(app.logger))
	env := commands.NewEnv(app.cfg, ctrl, app.client,
		commands.WithModelCache(app.modelCache()),
		commands.WithConfigSaver(app.saveConfig),
		commands.WithLogger(app.logger),
	)
	s := &chatSession{
		app:        app,
		env:        env,
		dispatcher: commands.NewDispatcher(env),
		renderer:   renderer,
		printer:    newStreamPrinter(app.out, renderer),
	}
	ctrl.Subscribe(s.printer.update)

	if err := env.Sidebar().Refresh(ctx); err != nil {
		app.logger.Warn("conversation list unavailable", "error", err)
	}
	if conversationID != "" {
		if err := ctrl.LoadHistory(ctx, conversationID); err != nil {
			return nil, err
		}
		s.printHistory()
	}
	return s, nil
}

// run is the interactive loop.
func (s *chatSession) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.env.Sidebar().Watch(ctx, s.env.Chat().OnConversationChange)()
	s.app.watchConfig(ctx, s.env.SetConfig)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	completer := commands.NewCompleter(s.dispatcher.Registry(), s.env)
	line.SetCompleter(completer.Complete)

	historyPath := s.loadHistory(line)
	defer s.saveHistory(line, historyPath)

	fmt.Fprintln(s.app.out, TitleStyle.Render("OpenChat")+" "+DimStyle.Render(s.status()))
	fmt.Fprintln(s.app.out, DimStyle.Render("Type /help for commands, Ctrl+D to quit."))

	for {
		input, err := line.Prompt("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.app.out)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := s.execute(ctx, input)
		if err != nil {
			var expired *chat.AuthExpiredError
			if errors.As(err, &expired) {
				return err
			}
		}
		if quit {
			return nil
		}
	}
}

// execute runs one line and prints its outcome. Ctrl+C while it runs stops
// the reply instead of ending the program. Errors already shown inline as an
// error message are not printed again.
func (s *chatSession) execute(ctx context.Context, input string) (quit bool, err error) {
	ctrl := s.env.Chat()
	before := ctrl.Snapshot()
	s.printer.reset(before)

	done := make(chan struct{})
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		select {
		case <-interrupts:
			ctrl.CancelActiveStream()
		case <-done:
		}
	}()
	res, err := s.dispatcher.Execute(ctx, input)
	signal.Stop(interrupts)
	close(done)
	shown := s.printer.finish()

	switch {
	case errors.Is(err, chat.ErrCanceled):
		fmt.Fprintln(s.app.out, WarningStyle.Render("[Cancelled]"))
		return false, nil
	case err != nil:
		if !shown {
			fmt.Fprintln(s.app.errOut, ErrorStyle.Render(err.Error()))
		}
		return false, err
	}

	if res.Output != "" {
		fmt.Fprintln(s.app.out, res.Output)
	}
	if commands.IsCommand(input) && ctrl.ConversationID() != before.ConversationID {
		s.printHistory()
	}
	return res.Quit, nil
}

// printHistory renders every message of the current session.
func (s *chatSession) printHistory() {
	for i, msg := range s.env.Chat().Snapshot().Messages {
		fmt.Fprintln(s.app.out, roleHeader(i+1, msg))
		fmt.Fprintln(s.app.out, s.renderer.Message(msg))
	}
}

func (s *chatSession) status() string {
	cfg := s.env.Config()
	return fmt.Sprintf("%s · %s · %s", s.app.auth.Username(), cfg.Provider().DisplayName(), cfg.Chat.Model)
}

func (s *chatSession) loadHistory(line *liner.State) string {
	dir, err := util.StateDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, HistoryFile)
	if f, err := os.Open(path); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return path
}

func (s *chatSession) saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		s.app.logger.Debug("history not saved", "error", err)
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

func roleHeader(n int, msg *model.Message) string {
	label := fmt.Sprintf("%d. %s", n, msg.Role.DisplayName())
	if msg.Role == model.RoleUser {
		return UserStyle.Render(label)
	}
	return AssistantStyle.Render(label)
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes assistant replies to the terminal as they grow.
// Snapshots may arrive out of order; older versions are ignored.
type streamPrinter struct {
	out      io.Writer
	renderer *render.Renderer

	mu      sync.Mutex
	version uint64
	known   map[string]bool
	printed map[string]string
	open    string
	failed  bool
}

func newStreamPrinter(out io.Writer, renderer *render.Renderer) *streamPrinter {
	return &streamPrinter{out: out, renderer: renderer}
}

// reset marks the messages in snap as already on screen.
func (p *streamPrinter) reset(snap chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.version = snap.Version
	p.known = make(map[string]bool, len(snap.Messages))
	for _, msg := range snap.Messages {
		p.known[msg.ID] = true
	}
	p.printed = map[string]string{}
	p.open = ""
	p.failed = false
}

// update prints what changed since the last snapshot.
func (p *streamPrinter) update(snap chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.known == nil || snap.Version <= p.version {
		return
	}
	p.version = snap.Version

	for _, msg := range snap.Messages {
		if p.known[msg.ID] || msg.Role != model.RoleAssistant {
			continue
		}
		if msg.Synthetic {
			p.closeOpen()
			p.known[msg.ID] = true
			p.failed = true
			fmt.Fprintln(p.out, p.renderer.Message(msg))
			continue
		}

		content := msg.GetDisplayContent()
		done, ok := p.printed[msg.ID]
		if !ok && p.open != msg.ID {
			p.closeOpen()
			fmt.Fprintln(p.out, AssistantStyle.Render("assistant"))
			p.open = msg.ID
		}
		if strings.HasPrefix(content, done) && len(content) > len(done) {
			fmt.Fprint(p.out, content[len(done):])
		}
		p.printed[msg.ID] = content
		if !msg.Streaming {
			p.closeOpen()
			p.known[msg.ID] = true
		}
	}
}

// finish ends the current reply line and reports whether an error message
// was printed since reset.
func (p *streamPrinter) finish() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeOpen()
	p.known = nil
	return p.failed
}

func (p *streamPrinter) closeOpen() {
	if p.open == "" {
		return
	}
	if text := p.printed[p.open]; text != "" && !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(p.out)
	}
	p.open = ""
}
