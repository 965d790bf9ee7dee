// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command parsing and dispatch for relaychat.
package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/jeranaias/relaychat/internal/server"
)

// Version information (can be overridden at build time)
var (
	Version   = server.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdServe
	CmdAsk
	CmdConversations
	CmdStatus
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name as typed on the command line.
func (c Command) String() string {
	switch c {
	case CmdChat:
		return "chat"
	case CmdServe:
		return "serve"
	case CmdAsk:
		return "ask"
	case CmdConversations:
		return "conversations"
	case CmdStatus:
		return "status"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string // --config FILE
	Quiet      bool
	Verbose    bool
	JSON       bool

	// Command-specific, parsed with ArgParser
	Parser *ArgParser

	// Raw args after the command name
	Raw []string
}

const usageText = `relaychat - streaming chat over a local Ollama relay

Usage:
  relaychat                          Interactive chat (default)
  relaychat serve                    Run the relay server
  relaychat chat                     Interactive chat
  relaychat ask "question"           Ask a single question
  relaychat conversations [list]     Saved conversations
  relaychat status                   Relay and model service health
  relaychat config [show|init|path]  Configuration
  relaychat version                  Version information

Serve:
  --port N                Listen port (default 8080, env PORT)
  --host ADDR             Listen address (default 127.0.0.1)
  --watch                 Reload model and system prompt when the config file changes

Chat:
  --relay URL             Relay address (default http://localhost:8080)
  --conversation ID       Resume a saved conversation (number, id or id prefix)
  --new                   Start a new conversation
  --markdown              Render finished replies as Markdown

  In chat:
    /new                  Start a new conversation
    /list                 List conversations
    /switch N             Switch to conversation N
    /delete N             Delete conversation N
    /clear                Clear the current conversation
    /title TEXT           Rename the current conversation
    /help                 Show commands
    /quit                 Exit (also Ctrl+D)
    Ctrl+C                Cancel the reply being streamed

Ask:
  --relay URL             Relay address
  --save                  Keep the exchange as a saved conversation

Conversations:
  relaychat conversations list
  relaychat conversations show N|ID
  relaychat conversations export N|ID      Markdown to stdout
  relaychat conversations delete N|ID

Global Flags:
  --config FILE   Config file (default ~/.relaychat/config.toml)
  -q, --quiet     Minimal output
  -v, --verbose   Debug output
  --json          JSON output for list, status and version

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("relaychat version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
	fmt.Printf("  Go:         %s\n", runtime.Version())
}

// Parse parses command-line arguments (without the program name).
func Parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)

	cmd := CmdChat
	if len(remaining) > 0 {
		if c, ok := lookupCommand(remaining[0]); ok {
			cmd = c
			remaining = remaining[1:]
		}
	}

	args.Raw = remaining
	args.Parser = NewArgParser(remaining, boolFlagsFor(cmd)...)
	return cmd, args
}

func lookupCommand(name string) (Command, bool) {
	switch strings.ToLower(name) {
	case "chat":
		return CmdChat, true
	case "serve", "server", "relay":
		return CmdServe, true
	case "ask":
		return CmdAsk, true
	case "conversations", "conversation", "convs", "ls":
		return CmdConversations, true
	case "status", "s":
		return CmdStatus, true
	case "config":
		return CmdConfig, true
	case "version", "--version":
		return CmdVersion, true
	case "help", "-h", "--help":
		return CmdHelp, true
	}
	return CmdChat, false
}

// boolFlagsFor lists the flags of cmd that never take a value.
func boolFlagsFor(cmd Command) []string {
	switch cmd {
	case CmdServe:
		return []string{"watch"}
	case CmdChat:
		return []string{"new", "markdown"}
	case CmdAsk:
		return []string{"save", "markdown"}
	case CmdConfig:
		return []string{"force"}
	}
	return nil
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var remaining []string
	var args Args

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch arg {
		case "-q", "--quiet":
			args.Quiet = true
		case "-v", "--verbose":
			args.Verbose = true
		case "--json":
			args.JSON = true
		case "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		default:
			if strings.HasPrefix(arg, "--config=") {
				args.ConfigPath = strings.TrimPrefix(arg, "--config=")
			} else {
				remaining = append(remaining, arg)
			}
		}
	}
	return remaining, args
}

// =============================================================================
// DISPATCH
// =============================================================================

// Run executes cmd and returns the process exit code.
func Run(cmd Command, args Args) int {
	var err error
	switch cmd {
	case CmdServe:
		err = HandleServe(args)
	case CmdChat:
		err = HandleChat(args)
	case CmdAsk:
		err = HandleAsk(args)
	case CmdConversations:
		err = HandleConversations(args)
	case CmdStatus:
		err = HandleStatus(args)
	case CmdConfig:
		err = HandleConfig(args)
	case CmdVersion:
		HandleVersion(args)
	case CmdHelp:
		PrintUsage()
	}

	if err != nil {
		DisplayError(err, args.JSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// VersionData is the JSON form of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) {
	if args.JSON {
		NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print()
		return
	}
	PrintVersion()
}
