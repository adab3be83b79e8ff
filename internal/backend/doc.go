// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for the OpenChat backend.
//
// The backend routes chat turns to several LLM providers and persists
// conversations, accounts and per-user settings. This package covers:
//   - Streaming chat over server-sent events (StreamChat, Decoder)
//   - Conversation listing, loading, renaming and deletion
//   - Login, signup, username checks and password changes
//   - User settings sync and provider model listing
//
// Non-2xx responses are returned as *APIError. A 401 from any endpoint
// matches ErrAuthExpired with errors.Is.
package backend
