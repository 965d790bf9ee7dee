// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for relaychat.
//
// Command: chat (default)
//
// Examples:
//
//	relaychat
//	relaychat chat --new
//	relaychat chat --conversation 2
//	relaychat chat --relay http://10.0.0.5:8080 --markdown
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"

	"github.com/jeranaias/relaychat/internal/chat"
	"github.com/jeranaias/relaychat/internal/config"
	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/storage"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and input history for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI and loads saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(configDir, "chat_history")}

	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads a line with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession holds the state of an interactive chat.
type chatSession struct {
	ws   *workspace
	ctrl *chat.Controller
	out  io.Writer

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newChatSession(ws *workspace, transport chat.Transport, out io.Writer, markdown bool, titleLen int, logger *log.Logger) *chatSession {
	printer := NewStreamPrinter(out, markdown, true)
	ctrl := chat.NewController(ws.store, transport,
		chat.WithPersister(ws),
		chat.WithObserver(printer),
		chat.WithTitleLength(titleLen),
		chat.WithLogger(logger),
	)
	return &chatSession{ws: ws, ctrl: ctrl, out: out}
}

// send runs one turn in the active conversation. It can be cancelled with
// interrupt while the reply streams.
func (s *chatSession) send(parent context.Context, input string) (chat.Turn, error) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	return s.ctrl.Send(ctx, s.ws.store.ActiveID(), input)
}

// interrupt cancels the streaming turn. It reports whether one was running.
func (s *chatSession) interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// HandleChat handles the "chat" command.
func HandleChat(args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	ws, err := openWorkspace(cfg)
	if err != nil {
		return err
	}
	defer ws.Close()

	p := args.Parser
	conv, err := ws.activate(p.Flag("conversation"), p.BoolFlag("new"))
	if err != nil {
		return err
	}

	relay := chat.NewRelayClient(p.FlagOrDefault("relay", cfg.Client.RelayURL))
	logger := log.New(io.Discard, "", 0)
	if args.Verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	session := newChatSession(ws, relay, os.Stdout, p.BoolFlag("markdown"), cfg.Client.TitleMaxLen, logger)

	if !args.Quiet {
		printWelcome(os.Stdout, relay.BaseURL(), conv)
		if _, err := relay.Health(context.Background()); err != nil {
			StderrPrint("%s %v\n\n", WarningStyle.Render("[WARN]"), err)
		}
	}

	input := NewChatCLI()
	defer input.Close()

	sigChan := make(chan os.Signal, 1)
	stop := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	exited := forwardInterrupts(sigChan, stop, session.interrupt, os.Stderr)
	defer func() {
		signal.Stop(sigChan)
		close(stop)
		<-exited
	}()

	for {
		line, err := input.ReadInput(UserPromptStyle.Render("You: "))
		if err != nil {
			// Ctrl+C at the prompt and Ctrl+D both end the session.
			fmt.Println()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			keepGoing, err := session.handleSlashCommand(line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}

		turn, err := session.send(context.Background(), line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			continue
		}
		if args.Verbose {
			fmt.Println(DimStyle.Render(fmt.Sprintf("[%d deltas in %s]", turn.Deltas, formatDurationShort(turn.Duration))))
		}
		fmt.Println()
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// forwardInterrupts cancels the running turn on each signal until stop is
// closed. The returned channel is closed when the goroutine exits.
func forwardInterrupts(sigs <-chan os.Signal, stop <-chan struct{}, interrupt func() bool, out io.Writer) <-chan struct{} {
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-stop:
				return
			case <-sigs:
				if interrupt() {
					fmt.Fprintln(out, "\n"+WarningStyle.Render("[Cancelled]"))
				}
			}
		}
	}()
	return exited
}

// handleSlashCommand runs an in-chat command. It returns false to end the
// session.
func (s *chatSession) handleSlashCommand(line string) (bool, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true, nil
	}
	command := strings.ToLower(parts[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))

	switch command {
	case "/help", "/h", "/?", "/":
		printChatHelp(s.out)

	case "/quit", "/q", "/exit":
		return false, nil

	case "/new", "/n":
		conv := s.ws.create()
		fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render("[New conversation]"), conv.GetTitle())
		if last, ok := conv.LastMessage(); ok {
			fmt.Fprintln(s.out, last.Content)
		}

	case "/list", "/ls":
		fmt.Fprint(s.out, storage.FormatList(s.ws.metas()))
		if conv, ok := s.ws.store.Active(); ok {
			fmt.Fprintf(s.out, "%s %s\n", DimStyle.Render("Active:"), conv.GetTitle())
		}

	case "/switch", "/s":
		id, err := s.resolve(rest)
		if err != nil {
			return true, err
		}
		conv, err := s.ws.selectID(id)
		if err != nil {
			return true, err
		}
		fmt.Fprintln(s.out)
		printTranscript(s.out, conv, false)

	case "/delete", "/del":
		id, err := s.resolve(rest)
		if err != nil {
			return true, err
		}
		if s.ctrl.Sending(id) {
			return true, chat.ErrTurnInFlight
		}
		conv, _ := s.ws.store.Get(id)
		if err := s.ws.remove(id); err != nil {
			return true, err
		}
		fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render("[Deleted]"), conv.GetTitle())
		if s.ws.store.Len() == 0 {
			s.ws.create()
		}

	case "/clear", "/c":
		conv, err := s.ctrl.Reset(s.ws.store.ActiveID(), model.DefaultGreeting)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render("[Conversation cleared]"), conv.GetTitle())

	case "/title", "/rename":
		if rest == "" {
			return true, ErrMissingArgument("title", "/title Trip planning")
		}
		conv, err := s.ctrl.Rename(s.ws.store.ActiveID(), rest)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render("[Renamed]"), conv.GetTitle())

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

func (s *chatSession) resolve(ref string) (string, error) {
	if ref == "" {
		return "", ErrMissingArgument("conversation", "/switch 2")
	}
	id, err := storage.ResolveID(s.ws.metas(), ref)
	if errors.Is(err, storage.ErrConversationNotFound) {
		return "", fmt.Errorf("no conversation %q (see /list)", ref)
	}
	return id, err
}

// =============================================================================
// DISPLAY
// =============================================================================

func printWelcome(w io.Writer, relayURL string, conv model.Conversation) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("relaychat"))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Relay:"), ValueStyle.Render(relayURL))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Conversation:"), ValueStyle.Render(conv.GetTitle()))
	fmt.Fprintln(w, DimStyle.Render("Type a message and press Enter. /help for commands, Ctrl+C cancels a reply."))
	fmt.Fprintln(w)
	if last, ok := conv.LastMessage(); ok && last.Role == model.RoleAssistant {
		fmt.Fprintln(w, AssistantStyle.Render(last.Role.DisplayName()+":"))
		fmt.Fprintln(w, last.Content)
		fmt.Fprintln(w)
	}
}

func printChatHelp(w io.Writer) {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/new", "Start a new conversation"},
		{"/list", "List conversations"},
		{"/switch N", "Switch to conversation N"},
		{"/delete N", "Delete conversation N"},
		{"/clear", "Clear the current conversation"},
		{"/title TEXT", "Rename the current conversation"},
		{"/help", "Show this help"},
		{"/quit", "Exit chat"},
	}

	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-14s %s\n", c.cmd, DimStyle.Render(c.desc))
	}
	fmt.Fprintln(w)
}
