// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single question command for relaychat.
//
// Sends one question through the relay and streams the reply to stdout.
//
// Examples:
//
//	relaychat ask "What is the capital of France?"
//	echo "Summarize this" | relaychat ask
//	relaychat ask --save --markdown "Explain goroutines"
//	relaychat --json ask "Say hi"
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jeranaias/relaychat/internal/chat"
	"github.com/jeranaias/relaychat/internal/model"
)

// maxStdinQuestion bounds a question read from a pipe.
const maxStdinQuestion = 1 << 20

// AskResult is the JSON form of an answered question.
type AskResult struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Question       string `json:"question"`
	Reply          string `json:"reply"`
	Deltas         int    `json:"deltas"`
	DurationMs     int64  `json:"duration_ms"`
	Saved          bool   `json:"saved"`
}

// askOnce runs a single turn in a new conversation, rendering progress
// through obs when it is non-nil. The error reports a failed transport or
// error frames in the stream.
func askOnce(ctx context.Context, transport chat.Transport, question string, titleLen int, obs chat.Observer) (model.Conversation, chat.Turn, error) {
	store := chat.NewStore()
	conv := store.Create("")

	opts := []chat.Option{chat.WithTitleLength(titleLen)}
	if obs != nil {
		opts = append(opts, chat.WithObserver(obs))
	}
	turn, err := chat.NewController(store, transport, opts...).Send(ctx, conv.ID, question)
	if err != nil {
		return conv, turn, err
	}
	conv, _ = store.Get(conv.ID)

	switch {
	case turn.Err != nil:
		return conv, turn, turn.Err
	case len(turn.StreamErrors) > 0:
		return conv, turn, &StreamError{Messages: turn.StreamErrors}
	}
	return conv, turn, nil
}

// replyOf returns the assistant reply of a one-turn conversation.
func replyOf(conv model.Conversation) string {
	if last, ok := conv.LastMessage(); ok && last.Role == model.RoleAssistant {
		return last.Content
	}
	return ""
}

// readQuestion takes the question from the arguments, or from stdin when
// it is piped.
func readQuestion(p *ArgParser, stdin io.Reader, stdinIsTTY bool) (string, error) {
	question := strings.TrimSpace(JoinPositionalArgs(p, 0))
	if (question == "" || question == "-") && !stdinIsTTY {
		data, err := io.ReadAll(io.LimitReader(stdin, maxStdinQuestion))
		if err != nil {
			return "", fmt.Errorf("read question from stdin: %w", err)
		}
		question = strings.TrimSpace(string(data))
	}
	if question == "" || question == "-" {
		return "", ErrMissingArgument("question", `relaychat ask "What is the capital of France?"`)
	}
	return question, nil
}

// HandleAsk handles the "ask" command.
func HandleAsk(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	p := args.Parser
	question, err := readQuestion(p, os.Stdin, IsTTY())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay := chat.NewRelayClient(p.FlagOrDefault("relay", cfg.Client.RelayURL))

	var obs chat.Observer
	if !args.JSON {
		markdown := p.BoolFlag("markdown") && IsStdoutTTY()
		obs = NewStreamPrinter(os.Stdout, markdown, false)
	}
	conv, turn, askErr := askOnce(ctx, relay, question, cfg.Client.TitleMaxLen, obs)

	saved := false
	if p.BoolFlag("save") && len(conv.Messages) > 0 {
		ws, err := openWorkspace(cfg)
		if err != nil {
			return err
		}
		defer ws.Close()
		if err := ws.Save(conv); err != nil {
			return NewCommandError("ask", "save", "could not save conversation", err)
		}
		saved = true
		if !args.Quiet && !args.JSON {
			StderrPrint("%s %s\n", DimStyle.Render("Saved as"), conv.GetTitle())
		}
	}

	if args.JSON {
		if askErr != nil {
			return askErr
		}
		return NewJSONResponse("ask", AskResult{
			ConversationID: conv.ID,
			Title:          conv.GetTitle(),
			Question:       question,
			Reply:          replyOf(conv),
			Deltas:         turn.Deltas,
			DurationMs:     turn.Duration.Milliseconds(),
			Saved:          saved,
		}).Print()
	}

	if args.Verbose {
		StderrPrint("%s\n", DimStyle.Render(fmt.Sprintf("[%d deltas in %s]", turn.Deltas, formatDurationShort(turn.Duration))))
	}
	return askErr
}
