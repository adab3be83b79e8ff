// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mayankbarode/OpenChat/internal/model"
)

func newModelsCmd(app *App) *cobra.Command {
	var (
		provider string
		refresh  bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models a provider offers",
		Long: `List the models of the selected provider, or of --provider. Lists are
cached for cache.models_ttl; --refresh fetches a fresh one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.requireLogin(); err != nil {
				return err
			}
			p := app.cfg.Provider()
			if provider != "" {
				var err error
				if p, err = model.ParseProvider(provider); err != nil {
					return err
				}
			}
			pc := app.cfg.Providers.For(p)
			if p.RequiresAPIKey() && pc.APIKey == "" {
				return fmt.Errorf("no %s API key: run `openchat settings set providers.%s.api_key KEY`", p.DisplayName(), p)
			}

			models, err := app.modelCache().Models(cmd.Context(), app.client, p, pc.APIKey, pc.BaseURL, refresh)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Fprintf(app.out, "%s returned no models.\n", p.DisplayName())
				return nil
			}

			selected := ""
			if p == app.cfg.Provider() {
				selected = model.PickModel(models, app.cfg.Chat.Model)
			}
			fmt.Fprintln(app.out, TitleStyle.Render(p.DisplayName()+" models"))
			for _, name := range models {
				marker := "  "
				if name == selected {
					marker = "› "
				}
				vision := ""
				if model.SupportsVision(name) {
					vision = DimStyle.Render(" (images)")
				}
				fmt.Fprintln(app.out, marker+name+vision)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider to list (openai, anthropic, gemini, vllm)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ignore the cached list")
	return cmd
}
