// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the streaming chat relay.
//
// The relay accepts a chat history from a browser or terminal client,
// forwards it to a local Ollama server with a fixed system instruction, and
// streams the reply back as server-sent events.
//
// # Endpoints
//
//   - POST /api/chat/stream - relay a turn as delta/done/error events
//   - GET  /api/models      - list locally installed models
//   - GET  /health          - liveness plus upstream reachability
//   - GET  /stats           - relay counters
//
// # Middleware
//
//   - Panic recovery
//   - CORS for the configured client origin
//   - Security headers
//   - Access logging
//   - Per-client rate limiting
//
// # Usage
//
//	srv := server.NewServer(ollama.NewClient(), server.Options{Port: 8080}, server.Settings{
//		Model:        "llama3.2:3b",
//		SystemPrompt: "You are a helpful assistant.",
//	})
//	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//		log.Fatal(err)
//	}
package server
