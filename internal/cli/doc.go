// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the relaychat command line.
//
// The same binary runs the relay ("serve") and the clients that talk to it:
// an interactive chat with saved conversations, a one-shot "ask", and
// commands to inspect conversations, service health and configuration.
//
// # Usage
//
//	cmd, args := cli.Parse(os.Args[1:])
//	os.Exit(cli.Run(cmd, args))
//
// # Commands
//
//   - serve: relay POST /api/chat/stream to Ollama as server-sent events
//   - chat: interactive chat (default command)
//   - ask: single question, reply streamed to stdout
//   - conversations: list, show, export and delete saved conversations
//   - status: relay and Ollama health
//   - config: show, init or locate the config file
//
// list, status, version and ask accept --json.
package cli
