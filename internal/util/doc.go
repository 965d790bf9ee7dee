// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the relay and the chat client.
//
// # Key Functions
//
// Text:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - CollapseWhitespace: trims and folds internal whitespace runs
//   - TruncateWidth, PadRight: display-width aware layout for terminal tables
//
// Files:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	title := util.TruncateRunes(util.CollapseWhitespace(text), 40)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
