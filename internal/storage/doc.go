// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations between runs of the chat client.
//
// # Backends
//
//   - FileStore: one JSON file per conversation, written atomically
//   - SQLiteStore: a single SQLite database (pure Go driver)
//   - Discard: keeps nothing
//
// All three implement Store, and New selects one by name:
//
//	store, err := storage.New(storage.BackendJSON, dataDir)
//	err = store.Save(conv)
//	metas, err := store.List()
//	conv, err := store.Load(metas[0].ID)
//
// Persistence is best-effort from the client's point of view: a failed Save
// is logged and the conversation stays in memory.
package storage
