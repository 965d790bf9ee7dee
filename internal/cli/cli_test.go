// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/relaychat/internal/chat"
	"github.com/jeranaias/relaychat/internal/config"
	"github.com/jeranaias/relaychat/internal/ollama"
	"github.com/jeranaias/relaychat/internal/storage"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"show"},
			wantSub: "show",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"show", "--relay", "http://h:8080"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("relay") != "http://h:8080" {
					t.Errorf("Flag(relay) = %q, want %q", p.Flag("relay"), "http://h:8080")
				}
			},
		},
		{
			name: "flag with equals",
			args: []string{"--port=9000"},
			validate: func(t *testing.T, p *ArgParser) {
				if n, err := p.FlagInt("port"); err != nil || n != 9000 {
					t.Errorf("FlagInt(port) = %d, %v; want 9000", n, err)
				}
			},
		},
		{
			name:    "undeclared flag takes the next word",
			args:    []string{"--new", "hello"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("new") != "hello" {
					t.Errorf("Flag(new) = %q, want hello", p.Flag("new"))
				}
			},
		},
		{
			name:    "declared boolean flag keeps the next word positional",
			args:    []string{"--new", "hello"},
			bools:   []string{"new"},
			wantSub: "hello",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("new") {
					t.Error("BoolFlag(new) should be true")
				}
			},
		},
		{
			name:  "explicit boolean value",
			args:  []string{"--save=no"},
			bools: []string{"save"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.BoolFlag("save") || !p.HasFlag("save") {
					t.Error("--save=no should be a set, false boolean flag")
				}
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"ask", "--", "--not-a-flag", "x"},
			wantSub: "ask",
			validate: func(t *testing.T, p *ArgParser) {
				if got := JoinPositionalArgs(p, 1); got != "--not-a-flag x" {
					t.Errorf("JoinPositionalArgs = %q", got)
				}
			},
		},
		{
			name:    "single dash is positional",
			args:    []string{"-"},
			wantSub: "-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args, tt.bools...)
			if p.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", p.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_EmptyArgs(t *testing.T) {
	p := NewArgParser(nil)
	if p.Subcommand() != "" || p.PositionalCount() != 0 {
		t.Errorf("empty parser has subcommand %q and %d positionals", p.Subcommand(), p.PositionalCount())
	}
	if len(p.PositionalFrom(1)) != 0 {
		t.Error("PositionalFrom out of range should be empty")
	}
	if p.FlagOrDefault("relay", "x") != "x" {
		t.Error("FlagOrDefault should fall back")
	}
}

func TestParseBoolString(t *testing.T) {
	for _, in := range []string{"true", "YES", "y", "1", " on "} {
		if v, err := ParseBoolString(in); err != nil || !v {
			t.Errorf("ParseBoolString(%q) = %v, %v; want true", in, v, err)
		}
	}
	for _, in := range []string{"false", "No", "n", "0", "off"} {
		if v, err := ParseBoolString(in); err != nil || v {
			t.Errorf("ParseBoolString(%q) = %v, %v; want false", in, v, err)
		}
	}
	if _, err := ParseBoolString("maybe"); err == nil {
		t.Error("ParseBoolString(maybe) should fail")
	}
}

// =============================================================================
// COMMAND PARSING TESTS (cli.go)
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		argv     []string
		wantCmd  Command
		validate func(*testing.T, Args)
	}{
		{
			name:    "no arguments starts chat",
			argv:    nil,
			wantCmd: CmdChat,
		},
		{
			name:    "serve with port and watch",
			argv:    []string{"serve", "--port", "9000", "--watch"},
			wantCmd: CmdServe,
			validate: func(t *testing.T, a Args) {
				if a.Parser.Flag("port") != "9000" || !a.Parser.BoolFlag("watch") {
					t.Errorf("port=%q watch=%v", a.Parser.Flag("port"), a.Parser.BoolFlag("watch"))
				}
			},
		},
		{
			name:    "chat flags without command",
			argv:    []string{"--new", "--relay", "http://10.0.0.5:8080"},
			wantCmd: CmdChat,
			validate: func(t *testing.T, a Args) {
				if !a.Parser.BoolFlag("new") || a.Parser.Flag("relay") != "http://10.0.0.5:8080" {
					t.Errorf("new=%v relay=%q", a.Parser.BoolFlag("new"), a.Parser.Flag("relay"))
				}
			},
		},
		{
			name:    "ask joins the question",
			argv:    []string{"ask", "--save", "what", "is", "go"},
			wantCmd: CmdAsk,
			validate: func(t *testing.T, a Args) {
				if got := JoinPositionalArgs(a.Parser, 0); got != "what is go" {
					t.Errorf("question = %q", got)
				}
				if !a.Parser.BoolFlag("save") {
					t.Error("save should be set")
				}
			},
		},
		{
			name:    "global flags anywhere",
			argv:    []string{"conversations", "show", "2", "--json", "--config", "/tmp/c.toml"},
			wantCmd: CmdConversations,
			validate: func(t *testing.T, a Args) {
				if !a.JSON || a.ConfigPath != "/tmp/c.toml" {
					t.Errorf("JSON=%v ConfigPath=%q", a.JSON, a.ConfigPath)
				}
				if a.Parser.Subcommand() != "show" || a.Parser.Positional(1) != "2" {
					t.Errorf("positionals = %v", a.Parser.PositionalFrom(0))
				}
			},
		},
		{
			name:    "config equals form and quiet",
			argv:    []string{"-q", "--config=/x.toml", "status"},
			wantCmd: CmdStatus,
			validate: func(t *testing.T, a Args) {
				if !a.Quiet || a.ConfigPath != "/x.toml" {
					t.Errorf("Quiet=%v ConfigPath=%q", a.Quiet, a.ConfigPath)
				}
			},
		},
		{name: "aliases", argv: []string{"convs"}, wantCmd: CmdConversations},
		{name: "help flag", argv: []string{"--help"}, wantCmd: CmdHelp},
		{name: "version", argv: []string{"version"}, wantCmd: CmdVersion},
		{name: "config", argv: []string{"config", "init", "--force"}, wantCmd: CmdConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := Parse(tt.argv)
			if cmd != tt.wantCmd {
				t.Fatalf("Parse(%v) command = %s, want %s", tt.argv, cmd, tt.wantCmd)
			}
			if args.Parser == nil {
				t.Fatal("Parser should always be set")
			}
			if tt.validate != nil {
				tt.validate(t, args)
			}
		})
	}
}

func TestServeOptions(t *testing.T) {
	cfg := config.Default()

	opts, err := serveOptions(cfg, NewArgParser([]string{"--port", "9001", "--host", "0.0.0.0"}))
	if err != nil {
		t.Fatalf("serveOptions: %v", err)
	}
	if opts.Port != 9001 || opts.Host != "0.0.0.0" {
		t.Errorf("opts = %+v", opts)
	}
	if opts.CORSOrigin != cfg.Server.CORSOrigin || opts.RateLimitPerMinute != cfg.Server.RateLimitPerMinute {
		t.Errorf("server settings not carried over: %+v", opts)
	}

	if _, err := serveOptions(cfg, NewArgParser([]string{"--port", "70000"})); GetExitCode(err) != ExitUsageError {
		t.Errorf("out of range port: err = %v", err)
	}
}

// =============================================================================
// EXIT CODE TESTS (errors.go)
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", ErrMissingArgument("question", "x"), ExitUsageError},
		{"empty input", chat.ErrEmptyInput, ExitUsageError},
		{"invalid config", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "server.port", Message: "bad"}}), ExitConfigError},
		{"config command", NewCommandError("config", "init", "exists", nil), ExitConfigError},
		{"cancelled", &chat.TransportError{Message: "stream interrupted", Cause: context.Canceled}, ExitInterrupted},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"stored conversation missing", fmt.Errorf("load: %w", storage.ErrConversationNotFound), ExitNotFoundError},
		{"conversation missing", chat.ErrConversationNotFound, ExitNotFoundError},
		{"relay unreachable", &chat.TransportError{Message: "could not reach relay", Cause: errors.New("dial tcp")}, ExitNetworkError},
		{"relay status", &chat.TransportError{Status: 502, Message: "bad gateway"}, ExitNetworkError},
		{"ollama down", ollama.ErrNotRunning, ExitNetworkError},
		{"stream error", &StreamError{Messages: []string{"model not found"}}, ExitStreamError},
		{"other", errors.New("boom"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestStreamError_Message(t *testing.T) {
	if got := (&StreamError{Messages: []string{"a"}}).Error(); got != "stream error: a" {
		t.Errorf("one message: %q", got)
	}
	if got := (&StreamError{Messages: []string{"a", "b", "c"}}).Error(); got != "stream error: a (and 2 more)" {
		t.Errorf("three messages: %q", got)
	}
}

// =============================================================================
// TERMINAL TESTS (terminal.go)
// =============================================================================

func TestWrapText(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short line", 40, "short line"},
		{"the quick brown fox jumps", 10, "the quick\nbrown fox\njumps"},
		{"keep\nnewlines here", 40, "keep\nnewlines here"},
		{"日本語 日本語 日本語", 13, "日本語 日本語\n日本語"},
	}
	for _, tt := range tests {
		if got := WrapText(tt.in, tt.width); got != tt.want {
			t.Errorf("WrapText(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestCommandString(t *testing.T) {
	for _, name := range []string{"chat", "serve", "ask", "conversations", "status", "config", "version", "help"} {
		cmd, ok := lookupCommand(name)
		if !ok || cmd.String() != name {
			t.Errorf("lookupCommand(%q) = %s, %v", name, cmd, ok)
		}
	}
	if _, ok := lookupCommand("hello"); ok {
		t.Error("plain words are not commands")
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := map[string]string{
		"250ms": "250ms",
		"1.5s":  "1.5s",
		"90s":   "1m30s",
		"2h5m":  "2h5m",
	}
	for in, want := range tests {
		d, err := time.ParseDuration(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := formatDurationShort(d); got != want {
			t.Errorf("formatDurationShort(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestUsageMentionsEveryCommand(t *testing.T) {
	for _, name := range []string{"serve", "chat", "ask", "conversations", "status", "config", "version"} {
		if !strings.Contains(usageText, "relaychat "+name) {
			t.Errorf("usage text does not mention %q", name)
		}
	}
}
