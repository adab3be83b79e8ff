// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the chat session controller.
//
// A Controller owns one session: an ordered list of messages and the
// conversation id assigned by the backend. It sends user turns, applies the
// streamed reply as it arrives and supports retry, edit, delete and cancel
// on the message list. Observers receive immutable snapshots through
// Subscribe.
//
// Failures that happen before a request is made leave the session untouched.
// Failures after a user message was committed are recorded in the session as
// an assistant message prefixed with "Error: " and are never sent back to
// the backend as history.
package chat
