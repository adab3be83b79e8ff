// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/render"
	"github.com/mayankbarode/OpenChat/internal/sidebar"
)

func newConversationsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "ls"},
		Short:   "List and manage saved conversations",
		Long: `List and manage the conversations stored on the backend.

A conversation can be named by its number in the list, its id, or a few
letters of its title.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listConversations(cmd.Context(), app, "")
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [filter]",
			Short: "List conversations, newest first",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return listConversations(cmd.Context(), app, strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "show <conversation>",
			Short: "Print a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return showConversation(cmd.Context(), app, args[0])
			},
		},
		&cobra.Command{
			Use:     "delete <conversation>",
			Aliases: []string{"rm"},
			Short:   "Delete a conversation",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				item, err := findConversation(cmd.Context(), app, args[0])
				if err != nil {
					return err
				}
				if err := app.client.DeleteConversation(cmd.Context(), item.ID); err != nil {
					return err
				}
				fmt.Fprintf(app.out, "Deleted %q.\n", item.Label())
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <conversation> <title>",
			Short: "Rename a conversation",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				item, err := findConversation(cmd.Context(), app, args[0])
				if err != nil {
					return err
				}
				title := strings.Join(args[1:], " ")
				if err := app.client.RenameConversation(cmd.Context(), item.ID, title); err != nil {
					return err
				}
				fmt.Fprintf(app.out, "Renamed to %q.\n", title)
				return nil
			},
		},
	)
	return cmd
}

// loadSidebar fetches the conversation list after restoring the login.
func loadSidebar(ctx context.Context, app *App) (*sidebar.Sidebar, error) {
	if err := app.requireLogin(); err != nil {
		return nil, err
	}
	sb := sidebar.New(app.client, sidebar.WithLogger(app.logger))
	if err := sb.Refresh(ctx); err != nil {
		return nil, err
	}
	return sb, nil
}

func findConversation(ctx context.Context, app *App, ref string) (sidebar.Item, error) {
	sb, err := loadSidebar(ctx, app)
	if err != nil {
		return sidebar.Item{}, err
	}
	return sb.Find(ref)
}

func listConversations(ctx context.Context, app *App, filter string) error {
	sb, err := loadSidebar(ctx, app)
	if err != nil {
		return err
	}
	items := sb.Items()
	if filter != "" {
		items = sb.Filter(filter)
	}
	if len(items) == 0 {
		if filter != "" {
			fmt.Fprintf(app.out, "No conversations match %q.\n", filter)
		} else {
			fmt.Fprintln(app.out, "No conversations yet.")
		}
		return nil
	}
	for _, line := range sb.LinesFor(items, min(GetTerminalWidth(), 100)) {
		fmt.Fprintln(app.out, strings.TrimRight(line, " "))
	}
	return nil
}

func showConversation(ctx context.Context, app *App, ref string) error {
	item, err := findConversation(ctx, app, ref)
	if err != nil {
		return err
	}
	ctrl := chat.New(app.client, chat.WithLogger(app.logger))
	if err := ctrl.LoadHistory(ctx, item.ID); err != nil {
		return err
	}

	renderer, err := render.New(render.Options{
		Width:        GetTerminalWidth(),
		Theme:        app.cfg.UI.Theme,
		ShowThinking: app.cfg.UI.ShowThinking,
		Plain:        !ColorsEnabled(),
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(app.out, TitleStyle.Render(item.Label())+" "+DimStyle.Render(item.Age(time.Now())))
	fmt.Fprintln(app.out, RenderSeparator(min(GetTerminalWidth(), 70)))
	for i, msg := range ctrl.Snapshot().Messages {
		fmt.Fprintln(app.out, roleHeader(i+1, msg))
		fmt.Fprintln(app.out, renderer.Message(msg))
	}
	return nil
}
