// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mayankbarode/OpenChat/internal/attachment"
	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/config"
	"github.com/mayankbarode/OpenChat/internal/export"
	"github.com/mayankbarode/OpenChat/internal/model"
	"github.com/mayankbarode/OpenChat/internal/render"
	"github.com/mayankbarode/OpenChat/internal/util"
)

// ListWidth is the width of conversation list output.
const ListWidth = 72

// ErrNoConversation is returned by commands that need a saved conversation.
var ErrNoConversation = errors.New("this chat has not been saved yet")

// =============================================================================
// MESSAGE REFERENCES
// =============================================================================

// messageAt resolves a 1-based message number.
func messageAt(snap chat.Snapshot, arg string) (*model.Message, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("%q is not a message number", arg)
	}
	if n < 1 || n > len(snap.Messages) {
		return nil, fmt.Errorf("no message #%d (this chat has %d)", n, len(snap.Messages))
	}
	return snap.Messages[n-1], nil
}

// lastAssistant returns the newest assistant message, skipping error
// reports unless includeErrors is set.
func lastAssistant(snap chat.Snapshot, includeErrors bool) (*model.Message, error) {
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		msg := snap.Messages[i]
		if msg.Role == model.RoleAssistant && (includeErrors || !msg.Synthetic) {
			return msg, nil
		}
	}
	return nil, errors.New("no reply in this chat yet")
}

// =============================================================================
// CONVERSATION HANDLERS
// =============================================================================

func handleNew(ctx context.Context, env *Env, _ Invocation) (Result, error) {
	if err := env.chat.LoadHistory(ctx, ""); err != nil {
		return Result{}, err
	}
	env.Detach()
	return Result{Output: "Started a new chat."}, nil
}

func handleList(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	if err := env.sidebar.Refresh(ctx); err != nil {
		return Result{}, err
	}
	items := env.sidebar.Filter(inv.Raw)
	if len(items) == 0 {
		if inv.Raw != "" {
			return Result{Output: fmt.Sprintf("No conversations match %q.", inv.Raw)}, nil
		}
		return Result{Output: "No conversations yet."}, nil
	}
	return Result{Output: strings.Join(env.sidebar.LinesFor(items, ListWidth), "\n")}, nil
}

func handleOpen(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	if len(env.sidebar.Items()) == 0 {
		if err := env.sidebar.Refresh(ctx); err != nil {
			return Result{}, err
		}
	}
	item, err := env.sidebar.Find(inv.Raw)
	if err != nil {
		return Result{}, err
	}
	if err := env.chat.LoadHistory(ctx, item.ID); err != nil {
		return Result{}, err
	}
	env.Detach()
	n := len(env.chat.Snapshot().Messages)
	return Result{Output: fmt.Sprintf("Opened %q (%d %s).", item.Label(), n, plural(n, "message"))}, nil
}

func handleRename(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	id := env.chat.ConversationID()
	if id == "" {
		return Result{}, ErrNoConversation
	}
	title := util.SingleLine(inv.Raw)
	if err := env.client.RenameConversation(ctx, id, title); err != nil {
		return Result{}, err
	}
	env.sidebar.Rename(id, title)
	return Result{Output: fmt.Sprintf("Renamed to %q.", title)}, nil
}

func handleRemove(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	id := env.chat.ConversationID()
	label := ""
	if inv.Raw != "" {
		if len(env.sidebar.Items()) == 0 {
			if err := env.sidebar.Refresh(ctx); err != nil {
				return Result{}, err
			}
		}
		item, err := env.sidebar.Find(inv.Raw)
		if err != nil {
			return Result{}, err
		}
		id, label = item.ID, item.Label()
	}
	if id == "" {
		return Result{}, ErrNoConversation
	}
	if label == "" {
		label = env.Title()
	}

	if err := env.client.DeleteConversation(ctx, id); err != nil {
		return Result{}, err
	}
	env.sidebar.Remove(id)
	out := fmt.Sprintf("Deleted %q.", label)
	if env.chat.ConversationID() == id {
		if err := env.chat.LoadHistory(ctx, ""); err != nil {
			return Result{}, err
		}
		env.Detach()
		out += " Started a new chat."
	}
	return Result{Output: out}, nil
}

func handleExport(_ context.Context, env *Env, inv Invocation) (Result, error) {
	opts := export.DefaultOptions()
	exporter, err := export.ForFormat(strings.ToLower(inv.Args[0]), opts)
	if err != nil {
		return Result{}, err
	}
	snap := env.chat.Snapshot()
	if len(snap.Messages) == 0 {
		return Result{}, errors.New("nothing to export")
	}
	var path string
	if len(inv.Args) > 1 {
		path = inv.Args[1]
	}
	doc := export.NewDocument(snap.ConversationID, env.Title(), snap.Messages, opts)
	written, err := export.ExportToFile(doc, exporter, path)
	if err != nil {
		return Result{}, err
	}
	n := len(doc.Messages)
	return Result{Output: fmt.Sprintf("Exported %d %s to %s.", n, plural(n, "message"), written)}, nil
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

func handleRetry(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	snap := env.chat.Snapshot()
	var (
		target *model.Message
		err    error
	)
	if len(inv.Args) > 0 {
		target, err = messageAt(snap, inv.Args[0])
	} else {
		target, err = lastAssistant(snap, true)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{}, env.chat.RetryFrom(ctx, target.ID, env.Config().SendConfig())
}

func handleEdit(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	target, err := messageAt(env.chat.Snapshot(), inv.Args[0])
	if err != nil {
		return Result{}, err
	}
	text := RestAfter(inv.Raw, 1)
	if len(inv.Args) == 2 {
		text = inv.Args[1]
	}
	return Result{}, env.chat.EditMessage(ctx, target.ID, text, env.Config().SendConfig())
}

func handleDelete(_ context.Context, env *Env, inv Invocation) (Result, error) {
	target, err := messageAt(env.chat.Snapshot(), inv.Args[0])
	if err != nil {
		return Result{}, err
	}
	if err := env.chat.DeleteMessage(target.ID); err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("Deleted message #%s.", inv.Args[0])}, nil
}

func handleCopy(_ context.Context, env *Env, inv Invocation) (Result, error) {
	snap := env.chat.Snapshot()
	args := inv.Args
	codeOnly := len(args) > 0 && strings.EqualFold(args[len(args)-1], "code")
	if codeOnly {
		args = args[:len(args)-1]
	}

	var (
		msg *model.Message
		err error
	)
	if len(args) > 0 {
		msg, err = messageAt(snap, args[0])
	} else {
		msg, err = lastAssistant(snap, false)
	}
	if err != nil {
		return Result{}, err
	}

	text := msg.Content
	what := "message"
	if codeOnly {
		blocks := render.CodeBlocks(text)
		if len(blocks) == 0 {
			return Result{}, errors.New("that message has no code blocks")
		}
		bodies := make([]string, len(blocks))
		for i, b := range blocks {
			bodies[i] = b.Body
		}
		text = strings.Join(bodies, "\n\n")
		what = fmt.Sprintf("%d code %s", len(blocks), plural(len(blocks), "block"))
	}
	if err := env.clipboard(text); err != nil {
		return Result{}, fmt.Errorf("copy to clipboard: %w", err)
	}
	return Result{Output: fmt.Sprintf("Copied %s to the clipboard.", what)}, nil
}

func handleCancel(_ context.Context, env *Env, _ Invocation) (Result, error) {
	if env.chat.CancelActiveStream() {
		return Result{Output: "Cancelled."}, nil
	}
	return Result{Output: "Nothing to cancel."}, nil
}

// =============================================================================
// ATTACHMENT HANDLERS
// =============================================================================

func handleAttach(_ context.Context, env *Env, inv Invocation) (Result, error) {
	cfg := env.Config()
	if !model.SupportsVision(cfg.Chat.Model) {
		return Result{}, fmt.Errorf("model %s does not accept images", cfg.Chat.Model)
	}
	path := strings.Join(inv.Args, " ")
	att, err := attachment.FromFile(path)
	if err != nil {
		return Result{}, err
	}
	env.SetAttachment(att)
	return Result{Output: "Attached " + att.String() + "."}, nil
}

func handleDetach(_ context.Context, env *Env, _ Invocation) (Result, error) {
	if env.Detach() {
		return Result{Output: "Attachment removed."}, nil
	}
	return Result{Output: "No attachment."}, nil
}

// =============================================================================
// MODEL HANDLERS
// =============================================================================

func handleProvider(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	cfg := env.Config()
	if len(inv.Args) == 0 {
		return Result{Output: fmt.Sprintf("Provider: %s (model %s)", cfg.Provider().DisplayName(), cfg.Chat.Model)}, nil
	}
	p, err := model.ParseProvider(inv.Args[0])
	if err != nil {
		return Result{}, err
	}

	// Fetch the new provider's models so the selection stays valid.
	pc := cfg.Providers.For(p)
	available, err := env.models.Models(ctx, env.client, p, pc.APIKey, pc.BaseURL, false)
	if err != nil {
		env.logger.Warn("model list unavailable", "provider", p, "error", err)
	}
	selected := model.PickModel(available, cfg.Chat.Model)

	if err := env.UpdateConfig(func(c *config.Config) {
		c.Chat.Provider = p.String()
		c.Chat.Model = selected
	}); err != nil {
		return Result{}, err
	}
	out := fmt.Sprintf("Provider: %s (model %s)", p.DisplayName(), selected)
	if p.RequiresAPIKey() && pc.APIKey == "" {
		out += fmt.Sprintf("\nNo API key set. Use: openchat settings set providers.%s.api_key <key>", p)
	}
	return Result{Output: out}, nil
}

func handleModel(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	cfg := env.Config()
	if len(inv.Args) == 0 {
		return Result{Output: "Model: " + cfg.Chat.Model}, nil
	}
	name := inv.Args[0]
	if err := env.UpdateConfig(func(c *config.Config) { c.Chat.Model = name }); err != nil {
		return Result{}, err
	}
	out := "Model: " + name
	if available, err := env.Models(ctx, false); err == nil && len(available) > 0 && !slices.Contains(available, name) {
		out += fmt.Sprintf(" (not in the %s model list)", cfg.Provider().DisplayName())
	}
	return Result{Output: out}, nil
}

func handleModels(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	refresh := len(inv.Args) > 0 && strings.EqualFold(inv.Args[0], "refresh")
	available, err := env.Models(ctx, refresh)
	if err != nil {
		return Result{}, err
	}
	cfg := env.Config()
	if len(available) == 0 {
		if cfg.Provider().RequiresAPIKey() && cfg.Providers.For(cfg.Provider()).APIKey == "" {
			return Result{Output: fmt.Sprintf("Set your %s API key to list models.", cfg.Provider().DisplayName())}, nil
		}
		return Result{Output: "No models available."}, nil
	}
	lines := make([]string, len(available))
	for i, m := range available {
		marker := "  "
		if m == cfg.Chat.Model {
			marker = "› "
		}
		lines[i] = marker + m
	}
	return Result{Output: strings.Join(lines, "\n")}, nil
}

// =============================================================================
// GENERAL HANDLERS
// =============================================================================

func (r *Registry) handleHelp(_ context.Context, _ *Env, inv Invocation) (Result, error) {
	if len(inv.Args) > 0 {
		name := inv.Args[0]
		if !strings.HasPrefix(name, "/") {
			name = "/" + name
		}
		cmd := r.Get(name)
		if cmd == nil {
			return Result{}, &UnknownCommandError{Name: name}
		}
		return Result{Output: commandHelp(cmd)}, nil
	}

	var b strings.Builder
	groups := r.ByCategory()
	for _, category := range categoryOrder {
		cmds := groups[category]
		if len(cmds) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(category + "\n")
		for _, cmd := range cmds {
			usage := cmd.Usage
			if usage == "" {
				usage = cmd.Name
			}
			fmt.Fprintf(&b, "  %s %s\n", util.PadRight(usage, 40), cmd.Description)
		}
	}
	b.WriteString("\nAnything else is sent as a message.")
	return Result{Output: b.String()}, nil
}

func commandHelp(cmd *Command) string {
	usage := cmd.Usage
	if usage == "" {
		usage = cmd.Name
	}
	out := usage + "\n  " + cmd.Description
	if len(cmd.Aliases) > 0 {
		out += "\n  aliases: " + strings.Join(cmd.Aliases, ", ")
	}
	return out
}

func handleQuit(_ context.Context, env *Env, _ Invocation) (Result, error) {
	env.chat.CancelActiveStream()
	return Result{Quit: true}, nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
