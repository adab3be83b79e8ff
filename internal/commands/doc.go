// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system shared by the line
// REPL and the full-screen interface.
//
// # Key Types
//
//   - Registry: all available commands, by name and alias
//   - Parser: splits input into a command and shell-quoted arguments
//   - Env: the chat controller, conversation list, configuration and
//     pending attachment that commands act on
//   - Dispatcher: runs a line of input, sending non-commands as turns
//   - Completer: tab completion for commands and their arguments
//
// Messages are addressed by their 1-based position in the chat, as shown
// by the interfaces; conversations by list number, id or a fuzzy title.
//
// # Usage
//
//	d := commands.NewDispatcher(env)
//	res, err := d.Execute(ctx, "/retry 4")
//	if res.Quit {
//	    return
//	}
package commands
