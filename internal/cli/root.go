// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the openchat command tree.
func NewRootCommand() *cobra.Command {
	app := &App{}

	root := &cobra.Command{
		Use:   "openchat",
		Short: "Chat with OpenAI, Anthropic, Gemini and local models through an OpenChat backend",
		Long: `openchat is a terminal client for an OpenChat backend.

It streams replies from the provider you choose, keeps your conversations on
the backend, and lets you retry, edit and delete messages.

Quick Start:
  openchat login                 # Sign in to the backend
  openchat settings set providers.openai.api_key sk-...
  openchat                       # Open the full-screen chat
  openchat chat                  # Or use the line-based chat`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.InOrStdin() == os.Stdin {
				app.in = stdinReader
			} else {
				app.in = bufio.NewReader(cmd.InOrStdin())
			}
			app.out = cmd.OutOrStdout()
			app.errOut = cmd.ErrOrStderr()
			return app.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd, app)
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "config file (default ~/.openchat/config.toml)")
	flags.StringVar(&app.backendURL, "backend", "", "backend URL, overriding the config file")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&app.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(
		newLoginCmd(app),
		newSignupCmd(app),
		newLogoutCmd(app),
		newWhoamiCmd(app),
		newPasswdCmd(app),
		newChatCmd(app),
		newTUICmd(app),
		newConversationsCmd(app),
		newModelsCmd(app),
		newSettingsCmd(app),
		newExportCmd(app),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:")+" "+err.Error())
		return GetExitCode(err)
	}
	return ExitSuccess
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "openchat %s\n  commit: %s\n  built:  %s\n", Version, GitCommit, BuildDate)
		},
	}
}
