// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for relaychat.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (PORT, CORS_ORIGIN, OLLAMA_MODEL, RELAYCHAT_*)
//   - ~/.relaychat/config.toml, or the file named with --config
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	port := cfg.Server.Port
//
// A running relay can follow edits to the file:
//
//	go config.Watch(ctx, path, func(cfg *config.Config) {
//	    srv.UpdateSettings(server.Settings{Model: cfg.Upstream.Model, SystemPrompt: cfg.Upstream.SystemPrompt})
//	})
package config
