// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth manages the login session: signing in and up, persisting the
// bearer token and dropping it when the backend rejects it.
package auth
