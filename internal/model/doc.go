// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// Conversations are plain values. Every mutation helper returns a new
// Conversation and leaves its receiver untouched, so a store can apply them
// as pure updates over its latest snapshot.
//
// # Key Types
//
//   - Conversation: id, title, creation time and ordered messages
//   - Message: role and text content
//   - Role: user, assistant or system
//
// # Usage
//
//	conv := model.NewConversation(model.DefaultGreeting)
//	conv = conv.Append(model.NewUserMessage("hello"), model.NewAssistantMessage(""))
//	conv, _ = conv.AppendToLastAssistant("Hi!")
package model
