// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render formats chat messages for the terminal.
//
// Prose is rendered as markdown with glamour. Fenced code blocks are cut
// out first and highlighted with chroma under a language header, and
// <think> reasoning blocks are folded to a single line unless expanded.
// Content that is still streaming may hold unterminated blocks; these are
// rendered as if closed at the end of the text.
package render
