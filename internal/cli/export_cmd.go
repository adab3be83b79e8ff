// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/export"
)

func newExportCmd(app *App) *cobra.Command {
	var (
		format string
		output string
		opts   = export.DefaultOptions()
	)
	cmd := &cobra.Command{
		Use:   "export <conversation>",
		Short: "Save a conversation as markdown, JSON or YAML",
		Long: `Save a conversation to a file. The format follows --format, or the
extension of --output. Without --output a file named after the title is
written to the current directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := findConversation(cmd.Context(), app, args[0])
			if err != nil {
				return err
			}
			ctrl := chat.New(app.client, chat.WithLogger(app.logger))
			if err := ctrl.LoadHistory(cmd.Context(), item.ID); err != nil {
				return err
			}

			if format == "" {
				format = "markdown"
				if ext := filepath.Ext(output); ext != "" {
					format = ext
				}
			}
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}

			snap := ctrl.Snapshot()
			doc := export.NewDocument(snap.ConversationID, item.Label(), snap.Messages, opts)
			path, err := export.ExportToFile(doc, exporter, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.out, "Exported %d messages to %s.\n", len(doc.Messages), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "markdown, json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file or directory to write")
	cmd.Flags().BoolVar(&opts.IncludeTimestamps, "timestamps", opts.IncludeTimestamps, "include message times")
	cmd.Flags().BoolVar(&opts.IncludeErrors, "errors", opts.IncludeErrors, "include error messages")
	cmd.Flags().BoolVar(&opts.IncludeImages, "images", opts.IncludeImages, "embed attached images")
	return cmd
}
