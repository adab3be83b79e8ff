// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across the client.
//
// File Operations:
//   - AtomicWriteFile: crash-safe writes for the config and session files
//   - StateDir: location of the per-user state directory
//
// Text:
//   - Truncate, PadRight, Width: terminal-column aware layout
//   - SingleLine: normalized one-line display of titles and previews
package util
