// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mayankbarode/OpenChat/internal/backend"
	"github.com/mayankbarode/OpenChat/internal/config"
)

func newSettingsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "settings",
		Aliases: []string{"config"},
		Short:   "Show and change settings",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(app.out, app.cfg.String())
			return nil
		},
	}

	var reveal bool
	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := app.cfg.Get(args[0])
			if err != nil {
				return err
			}
			s := fmt.Sprint(v)
			if config.IsSecret(args[0]) && !reveal && s != "" {
				s = "[REDACTED " + backend.Fingerprint(s) + "]"
			}
			fmt.Fprintln(app.out, s)
			return nil
		},
	}
	get.Flags().BoolVar(&reveal, "reveal", false, "print API keys in full")

	var noPush bool
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long: "Change one setting in the config file. Keys:\n  " +
			strings.Join(config.Keys(), "\n  "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			next := app.cfg.Clone()
			if err := next.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := next.Validate(); err != nil {
				return err
			}
			if err := app.saveConfig(next); err != nil {
				return err
			}
			fmt.Fprintln(app.out, SuccessStyle.Render("Saved "+args[0]+"."))
			if noPush || !syncedKey(args[0]) {
				return nil
			}
			// Signed-in users keep provider settings on the backend too.
			if app.requireLogin() != nil {
				return nil
			}
			if err := app.client.UpdateSettings(cmd.Context(), next.RemoteUpdate()); err != nil {
				fmt.Fprintln(app.errOut, WarningStyle.Render("Not saved to your account: "+err.Error()))
			}
			return nil
		},
	}
	set.Flags().BoolVar(&noPush, "local", false, "do not update the settings stored on the backend")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print all settings, with API keys redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprint(app.out, app.cfg.String())
				return nil
			},
		},
		get,
		set,
		&cobra.Command{
			Use:   "pull",
			Short: "Merge the settings stored on the backend into the config file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := app.requireLogin(); err != nil {
					return err
				}
				pushed, err := app.syncSettings(cmd.Context())
				if err != nil {
					return err
				}
				msg := "Settings updated from your account."
				if pushed {
					msg += " Local API keys were uploaded."
				}
				fmt.Fprintln(app.out, SuccessStyle.Render(msg))
				return nil
			},
		},
		&cobra.Command{
			Use:   "push",
			Short: "Store the local provider settings on the backend",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := app.requireLogin(); err != nil {
					return err
				}
				if err := app.client.UpdateSettings(cmd.Context(), app.cfg.RemoteUpdate()); err != nil {
					return err
				}
				fmt.Fprintln(app.out, SuccessStyle.Render("Settings saved to your account."))
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(app.out, app.cfgPath)
			},
		},
	)
	return cmd
}

// syncedKey reports whether key is part of the settings kept on the backend.
func syncedKey(key string) bool {
	return strings.HasPrefix(key, "providers.") || strings.HasPrefix(key, "chat.")
}
