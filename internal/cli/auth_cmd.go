// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mayankbarode/OpenChat/internal/auth"
)

// =============================================================================
// LOGIN / SIGNUP / LOGOUT
// =============================================================================

func newLoginCmd(app *App) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the OpenChat backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if username == "" {
				if username, err = app.prompt("Username: "); err != nil {
					return err
				}
			}
			password, err := app.promptSecret("Password: ")
			if err != nil {
				return err
			}
			sess, err := app.auth.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.out, SuccessStyle.Render("Logged in as "+sess.Username))
			app.pullSettings(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	return cmd
}

func newSignupCmd(app *App) *cobra.Command {
	var form auth.SignupForm
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account on the OpenChat backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var err error
			for form.Username == "" {
				if form.Username, err = app.prompt("Username: "); err != nil {
					return err
				}
				if form.Username == "" {
					break
				}
				avail, err := app.auth.CheckUsername(ctx, form.Username)
				if err != nil {
					app.logger.Debug("username check failed", "error", err)
				}
				if avail == auth.AvailabilityTaken {
					fmt.Fprintln(app.errOut, WarningStyle.Render("Username "+form.Username+" is taken."))
					form.Username = ""
				}
			}
			if form.Email == "" {
				if form.Email, err = app.prompt("Email (optional): "); err != nil {
					return err
				}
			}
			if form.Password, err = app.promptSecret("Password: "); err != nil {
				return err
			}
			if s := auth.PasswordStrength(form.Password); s != auth.StrengthNone {
				fmt.Fprintln(app.errOut, DimStyle.Render("Strength: "+s.String()))
			}
			if form.Confirm, err = app.promptSecret("Confirm password: "); err != nil {
				return err
			}

			sess, err := app.auth.Signup(ctx, form)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.out, SuccessStyle.Render("Account created. Logged in as "+sess.Username))
			app.pullSettings(ctx)
			return nil
		},
	}
	cmd.Flags().StringVarP(&form.Username, "username", "u", "", "account name")
	cmd.Flags().StringVar(&form.Email, "email", "", "email address")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := app.auth.Restore()
			if err != nil {
				fmt.Fprintln(app.out, "Not logged in.")
				return nil
			}
			app.auth.Logout()
			fmt.Fprintln(app.out, "Logged out "+sess.Username+".")
			return nil
		},
	}
}

func newWhoamiCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			sess := app.auth.Session()
			fmt.Fprintln(app.out, RenderField("User", sess.Username))
			fmt.Fprintln(app.out, RenderField("Backend", app.client.BaseURL()))
			if !sess.ExpiresAt.IsZero() {
				fmt.Fprintln(app.out, RenderField("Expires", sess.ExpiresAt.Local().Format("2006-01-02 15:04")))
			}
			return nil
		},
	}
}

func newPasswdCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change your password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			current, err := app.promptSecret("Current password: ")
			if err != nil {
				return err
			}
			next, err := app.promptSecret("New password: ")
			if err != nil {
				return err
			}
			confirm, err := app.promptSecret("Confirm new password: ")
			if err != nil {
				return err
			}
			if err := app.auth.ChangePassword(cmd.Context(), current, next, confirm); err != nil {
				return err
			}
			fmt.Fprintln(app.out, SuccessStyle.Render("Password changed."))
			return nil
		},
	}
}

// pullSettings merges the account's stored settings into the local config
// after a login. Failures are reported but do not undo the login.
func (a *App) pullSettings(ctx context.Context) {
	pushed, err := a.syncSettings(ctx)
	if err != nil {
		fmt.Fprintln(a.errOut, WarningStyle.Render("Could not load your saved settings: "+err.Error()))
		return
	}
	if pushed {
		a.logger.Info("uploaded local api keys to the backend")
	}
}

// syncSettings fetches /user/settings, merges them into the config file and
// pushes local-only keys back. It reports whether anything was pushed.
func (a *App) syncSettings(ctx context.Context) (bool, error) {
	remote, err := a.client.GetSettings(ctx)
	if err != nil {
		return false, err
	}
	next := a.cfg.Clone()
	push := next.MergeRemote(remote)
	if err := next.Validate(); err != nil {
		return false, err
	}
	if err := a.saveConfig(next); err != nil {
		return false, err
	}
	if push == nil {
		return false, nil
	}
	if err := a.client.UpdateSettings(ctx, *push); err != nil {
		return false, fmt.Errorf("push settings: %w", err)
	}
	return true, nil
}
