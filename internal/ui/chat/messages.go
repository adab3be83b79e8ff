// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	core "github.com/mayankbarode/OpenChat/internal/chat"
	"github.com/mayankbarode/OpenChat/internal/commands"
)

// SnapshotMsg carries a controller snapshot into the update loop.
type SnapshotMsg struct {
	Snapshot core.Snapshot
}

// SidebarMsg reports that the conversation list changed.
type SidebarMsg struct{}

// CommandDoneMsg reports the outcome of a submitted line.
type CommandDoneMsg struct {
	Input  string
	Result commands.Result
	Err    error
}
