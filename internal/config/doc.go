// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves the client configuration.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OPENCHAT_*), including a .env file in the
//     working directory
//   - ~/.openchat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	err = ctrl.SendTurn(ctx, text, nil, cfg.SendConfig())
//
// Settings can also be synced with the account on the backend; see
// MergeRemote and RemoteUpdate. A Watcher picks up edits made to the file
// while the client runs.
package config
