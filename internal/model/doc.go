// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// This package defines the core domain types shared by the backend client,
// the chat controller and the terminal front-ends.
//
// # Key Types
//
//   - Session: ordered message list of the active conversation plus its
//     backend-assigned identity
//   - Message: single message with role, content, optional image and the
//     streaming buffer used while an assistant reply arrives
//   - Provider: LLM provider enumeration (openai, anthropic, gemini, vllm)
//   - Role: message role enumeration (user, assistant)
//
// # Usage
//
//	sess := model.NewSession()
//	sess.Append(model.NewUserMessage("Hello!", ""))
//	reply := model.NewStreamingMessage(model.NewID())
//	sess.Append(reply)
//	reply.AppendToken("Hi")
//	reply.FinalizeStream()
package model
