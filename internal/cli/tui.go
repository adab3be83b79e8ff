// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/commands"
	chatui "github.com/mayankbarode/OpenChat/internal/ui/chat"
)

func newTUICmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen chat (the default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, app)
		},
	}
}

// runTUI hands the terminal to the full-screen interface. Logs go to the
// log file while it runs.
func runTUI(cmd *cobra.Command, app *App) error {
	if !IsTTY() || !IsStdoutTTY() {
		return errors.New("the full-screen chat needs a terminal; use `openchat chat` instead")
	}
	if err := app.logToFile(); err != nil {
		app.logger.Warn("logging to stderr", "error", err)
	}
	if err := app.requireLogin(); err != nil {
		return err
	}

	ctrl := chat.New(app.client,
		chat.WithAuthHandler(app.auth),
		chat.WithLogger(app.logger),
		chat.WithNotifyRate(rate.Limit(app.cfg.UI.RefreshRate), 1),
	)
	env := commands.NewEnv(app.cfg, ctrl, app.client,
		commands.WithModelCache(app.modelCache()),
		commands.WithConfigSaver(app.saveConfig),
		commands.WithLogger(app.logger),
	)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	app.watchConfig(ctx, env.SetConfig)

	return chatui.Run(ctx, chatui.Options{
		Dispatcher:   commands.NewDispatcher(env),
		Username:     app.auth.Username(),
		Theme:        app.cfg.UI.Theme,
		ShowThinking: app.cfg.UI.ShowThinking,
		SidebarWidth: app.cfg.UI.SidebarWidth,
		Plain:        !ColorsEnabled(),
		Logger:       app.logger,
	})
}
