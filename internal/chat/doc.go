// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the client side of the relay: a conversation store and
// the turn controller that streams replies into it.
//
// # Key Types
//
//   - Store: conversations plus the active-conversation pointer; all
//     mutations are pure functions applied to the latest snapshot
//   - Controller: runs turns with at most one in flight per conversation
//   - RelayClient: Transport that posts history to the relay
//
// # Usage
//
//	store := chat.NewStore()
//	conv := store.Create(model.DefaultGreeting)
//	ctrl := chat.NewController(store, chat.NewRelayClient("http://localhost:8080"))
//	turn, err := ctrl.Send(ctx, conv.ID, "hello")
package chat
