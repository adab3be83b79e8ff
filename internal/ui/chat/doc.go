// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the full-screen chat interface.
//
// The model never owns conversation state. It renders snapshots published by
// the session controller, forwards input to the shared slash-command
// dispatcher, and shows the conversation list from the sidebar. Controller
// and sidebar callbacks run on other goroutines and reach the model as
// Bubble Tea messages.
package chat
