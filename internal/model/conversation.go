// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/relaychat/internal/util"
)

const (
	// DefaultTitle is the placeholder title of a conversation nobody has named.
	DefaultTitle = "New Conversation"

	// DefaultTitleLength is the rune limit of a derived title, ellipsis included.
	DefaultTitleLength = 40

	// DefaultGreeting opens new conversations in the interactive client.
	DefaultGreeting = "Hi! I'm your local assistant. How can I help?"

	// ErrorMarker prefixes error annotations appended to an assistant reply.
	ErrorMarker = "\n\n⚠️ "
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a chat conversation. Treat it as a value: the helpers
// below copy the message slice instead of writing through it.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// NewConversation creates a conversation with a fresh id. A non-empty
// greeting becomes its first assistant message.
func NewConversation(greeting string) Conversation {
	now := time.Now()
	conv := Conversation{
		ID:        uuid.New().String(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	if greeting != "" {
		conv.Messages = append(conv.Messages, NewAssistantMessage(greeting))
	}
	return conv
}

// Append returns a copy of c with msgs added at the end.
func (c Conversation) Append(msgs ...Message) Conversation {
	next := make([]Message, 0, len(c.Messages)+len(msgs))
	next = append(next, c.Messages...)
	next = append(next, msgs...)
	c.Messages = next
	c.UpdatedAt = time.Now()
	return c
}

// AppendToLastAssistant returns a copy of c with text added to its last
// message. Nothing changes, and ok is false, unless the last message is an
// assistant message.
func (c Conversation) AppendToLastAssistant(text string) (next Conversation, ok bool) {
	n := len(c.Messages)
	if n == 0 || c.Messages[n-1].Role != RoleAssistant {
		return c, false
	}
	msgs := make([]Message, n)
	copy(msgs, c.Messages)
	msgs[n-1].Content += text
	c.Messages = msgs
	c.UpdatedAt = time.Now()
	return c, true
}

// AnnotateError appends a visibly marked error line to the last assistant
// message, keeping whatever content it already has.
func (c Conversation) AnnotateError(msg string) (Conversation, bool) {
	return c.AppendToLastAssistant(ErrorMarker + msg)
}

// History returns the user and assistant messages in order, as sent to the
// relay.
func (c Conversation) History() []Message {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role.IsChat() {
			out = append(out, m)
		}
	}
	return out
}

// LastMessage returns the final message, if any.
func (c Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// FirstUserMessage returns the content of the earliest user message.
func (c Conversation) FirstUserMessage() (string, bool) {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return m.Content, true
		}
	}
	return "", false
}

// HasDefaultTitle reports whether the title is still the placeholder.
func (c Conversation) HasDefaultTitle() bool {
	return c.Title == "" || c.Title == DefaultTitle
}

// WithDerivedTitle returns a copy of c titled after its first user message
// when the title is still the placeholder. Explicit titles are kept.
func (c Conversation) WithDerivedTitle(maxLen int) Conversation {
	if !c.HasDefaultTitle() {
		return c
	}
	first, ok := c.FirstUserMessage()
	if !ok {
		return c
	}
	if title := DeriveTitle(first, maxLen); title != "" {
		c.Title = title
	}
	return c
}

// WithTitle returns a copy of c with an explicit title. A blank title
// restores the placeholder.
func (c Conversation) WithTitle(title string) Conversation {
	title = util.CollapseWhitespace(title)
	if title == "" {
		title = DefaultTitle
	}
	c.Title = title
	c.UpdatedAt = time.Now()
	return c
}

// Reset returns a copy of c whose history is replaced by the greeting alone.
func (c Conversation) Reset(greeting string) Conversation {
	c.Messages = []Message{}
	if greeting != "" {
		c.Messages = append(c.Messages, NewAssistantMessage(greeting))
	}
	c.Title = DefaultTitle
	c.UpdatedAt = time.Now()
	return c
}

// GetTitle returns the title, falling back to the placeholder.
func (c Conversation) GetTitle() string {
	if c.Title == "" {
		return DefaultTitle
	}
	return c.Title
}

// MessageCount returns the number of messages.
func (c Conversation) MessageCount() int {
	return len(c.Messages)
}

// DeriveTitle turns free text into a title: NFC-normalized, trimmed,
// internal whitespace collapsed, then truncated to maxLen runes with an
// ellipsis. A non-positive maxLen uses DefaultTitleLength.
func DeriveTitle(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultTitleLength
	}
	return util.TruncateRunes(util.CollapseWhitespace(norm.NFC.String(text)), maxLen)
}
