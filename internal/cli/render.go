// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Reply rendering for chat and ask.
package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/relaychat/internal/chat"
	"github.com/jeranaias/relaychat/internal/model"
)

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderMarkdown renders content for the terminal. It returns content
// unchanged if no renderer could be built.
func renderMarkdown(content string) string {
	markdownRendererOnce.Do(func() {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(GetTerminalWidth()-4),
		)
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}
	out, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// StreamPrinter renders turn progress to a writer. It implements
// chat.Observer.
//
// Without Markdown, deltas are written as they arrive. With Markdown the
// reply is rendered once the turn finishes, since partial Markdown cannot
// be laid out.
type StreamPrinter struct {
	out      io.Writer
	markdown bool
	label    bool
	render   func(string) string

	mu      sync.Mutex
	started bool
}

// NewStreamPrinter creates a printer writing to out. With label set each
// reply is prefixed with the assistant's name.
func NewStreamPrinter(out io.Writer, markdown, label bool) *StreamPrinter {
	return &StreamPrinter{out: out, markdown: markdown, label: label, render: renderMarkdown}
}

func (p *StreamPrinter) TurnStarted(conv model.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	if p.label {
		fmt.Fprintf(p.out, "\n%s\n", AssistantStyle.Render(model.RoleAssistant.DisplayName()+":"))
	}
}

func (p *StreamPrinter) DeltaReceived(convID, text string) {
	if p.markdown {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.out, text)
}

func (p *StreamPrinter) ErrorReceived(convID, message string) {
	if p.markdown {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.out, RenderConditional(WarningStyle, model.ErrorMarker+message))
}

func (p *StreamPrinter) TurnFinished(turn chat.Turn, conv model.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false

	if p.markdown {
		if last, ok := conv.LastMessage(); ok && last.Role == model.RoleAssistant {
			io.WriteString(p.out, p.render(last.Content))
		}
		return
	}
	io.WriteString(p.out, "\n")
}

// printTranscript writes every message of conv, rendering assistant
// replies as Markdown when markdown is set.
func printTranscript(w io.Writer, conv model.Conversation, markdown bool) {
	fmt.Fprintln(w, TitleStyle.Render(conv.GetTitle()))
	for _, msg := range conv.Messages {
		label := UserPromptStyle
		if msg.Role == model.RoleAssistant {
			label = AssistantStyle
		}
		fmt.Fprintln(w, label.Render(msg.Role.DisplayName()+":"))
		content := msg.Content
		if markdown && msg.Role == model.RoleAssistant {
			content = renderMarkdown(content)
		}
		fmt.Fprintln(w, strings.TrimRight(content, "\n"))
		fmt.Fprintln(w)
	}
}
