// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/sse"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Transport opens the relay stream for an outgoing history.
type Transport interface {
	OpenStream(ctx context.Context, history []model.Message) (io.ReadCloser, error)
}

// Persister saves conversations. Failures are logged and otherwise ignored.
type Persister interface {
	Save(conv model.Conversation) error
}

// Observer is told about turn progress, typically to render it. Calls are
// made from the goroutine running Send, after the store has been updated.
type Observer interface {
	TurnStarted(conv model.Conversation)
	DeltaReceived(convID, text string)
	ErrorReceived(convID, message string)
	TurnFinished(turn Turn, conv model.Conversation)
}

// =============================================================================
// TURN
// =============================================================================

// Turn describes one request/response cycle.
type Turn struct {
	ConversationID string
	UserMessage    model.Message
	Outgoing       []model.Message

	// Deltas counts delta frames applied to the placeholder.
	Deltas int

	// StreamErrors holds the messages of error frames received.
	StreamErrors []string

	// Err is the transport failure that ended the turn, if any. It has
	// already been appended to the conversation.
	Err error

	// Exhausted is set when the relay stream was read to its end.
	Exhausted bool

	Duration time.Duration
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs turns against a Store. At most one turn is in flight per
// conversation; sends to a busy conversation are refused, not queued. Turns
// in different conversations may run concurrently.
type Controller struct {
	store     *Store
	transport Transport
	persister Persister
	observer  Observer
	titleLen  int
	logger    *log.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithPersister saves each conversation when its turn ends.
func WithPersister(p Persister) Option {
	return func(c *Controller) { c.persister = p }
}

// WithObserver reports turn progress to o.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithTitleLength sets the rune limit of derived titles.
func WithTitleLength(n int) Option {
	return func(c *Controller) { c.titleLen = n }
}

// WithLogger sets the logger for best-effort failures.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller.
func NewController(store *Store, transport Transport, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		transport: transport,
		titleLen:  model.DefaultTitleLength,
		logger:    log.New(io.Discard, "", 0),
		inFlight:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sending reports whether convID has a turn in flight.
func (c *Controller) Sending(convID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[convID]
}

func (c *Controller) acquire(convID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[convID] {
		return false
	}
	c.inFlight[convID] = true
	return true
}

func (c *Controller) release(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, convID)
}

// Send runs one turn in convID and blocks until the relay stream ends.
//
// Blank input returns ErrEmptyInput and a busy conversation returns
// ErrTurnInFlight; neither touches the conversation. Otherwise the user
// message and an empty assistant placeholder are appended in one update,
// deltas grow the placeholder, and failures are appended to it as marked
// error text. Those failures are reported in Turn.Err, not as the returned
// error.
func (c *Controller) Send(ctx context.Context, convID, input string) (Turn, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return Turn{}, ErrEmptyInput
	}
	if _, ok := c.store.Get(convID); !ok {
		return Turn{}, ErrConversationNotFound
	}
	if !c.acquire(convID) {
		return Turn{}, ErrTurnInFlight
	}
	defer c.release(convID)

	start := time.Now()
	turn := Turn{ConversationID: convID, UserMessage: model.NewUserMessage(text)}

	conv, err := c.store.Update(convID, func(prev model.Conversation) model.Conversation {
		turn.Outgoing = append(prev.History(), turn.UserMessage)
		return prev.Append(turn.UserMessage, model.NewAssistantMessage(""))
	})
	if err != nil {
		return Turn{}, err
	}
	if c.observer != nil {
		c.observer.TurnStarted(conv)
	}

	c.stream(ctx, &turn)

	if turn.Exhausted {
		c.store.Update(convID, func(prev model.Conversation) model.Conversation {
			return prev.WithDerivedTitle(c.titleLen)
		})
	}
	turn.Duration = time.Since(start)

	// The conversation may have been deleted while streaming.
	conv, ok := c.store.Get(convID)
	if ok {
		c.persist(conv)
	}
	if c.observer != nil {
		c.observer.TurnFinished(turn, conv)
	}
	return turn, nil
}

// stream reads the relay response into the placeholder.
func (c *Controller) stream(ctx context.Context, turn *Turn) {
	body, err := c.transport.OpenStream(ctx, turn.Outgoing)
	if err != nil {
		c.failTurn(turn, err)
		return
	}
	defer body.Close()

	h := &turnHandler{c: c, turn: turn}
	if err := sse.Consume(sse.NewParser(body), h); err != nil {
		c.failTurn(turn, &TransportError{Message: "stream interrupted", Cause: err})
		return
	}
	turn.Exhausted = true
}

func (c *Controller) failTurn(turn *Turn, err error) {
	turn.Err = err
	msg := err.Error()
	if errors.Is(err, context.Canceled) {
		msg = "cancelled"
	}
	c.annotate(turn.ConversationID, msg)
}

func (c *Controller) annotate(convID, msg string) {
	c.store.Update(convID, func(prev model.Conversation) model.Conversation {
		next, _ := prev.AnnotateError(msg)
		return next
	})
	if c.observer != nil {
		c.observer.ErrorReceived(convID, msg)
	}
}

func (c *Controller) persist(conv model.Conversation) {
	if c.persister == nil {
		return
	}
	if err := c.persister.Save(conv); err != nil {
		c.logger.Printf("STORE_SAVE_FAILED | id=%s error=%v", conv.ID, err)
	}
}

// Reset replaces a conversation's history with the greeting. It is refused
// while a turn is in flight there.
func (c *Controller) Reset(convID, greeting string) (model.Conversation, error) {
	if !c.acquire(convID) {
		return model.Conversation{}, ErrTurnInFlight
	}
	defer c.release(convID)

	conv, err := c.store.Update(convID, func(prev model.Conversation) model.Conversation {
		return prev.Reset(greeting)
	})
	if err != nil {
		return conv, err
	}
	c.persist(conv)
	return conv, nil
}

// Rename sets an explicit title, which later turns will not overwrite.
func (c *Controller) Rename(convID, title string) (model.Conversation, error) {
	conv, err := c.store.Update(convID, func(prev model.Conversation) model.Conversation {
		return prev.WithTitle(title)
	})
	if err != nil {
		return conv, err
	}
	c.persist(conv)
	return conv, nil
}

// =============================================================================
// FRAME HANDLER
// =============================================================================

// turnHandler applies dispatched frames to the turn's conversation.
type turnHandler struct {
	c    *Controller
	turn *Turn
}

func (h *turnHandler) OnDelta(text string) {
	id := h.turn.ConversationID
	applied := false
	h.c.store.Update(id, func(prev model.Conversation) model.Conversation {
		next, ok := prev.AppendToLastAssistant(text)
		applied = ok
		return next
	})
	if !applied {
		return
	}
	h.turn.Deltas++
	if h.c.observer != nil {
		h.c.observer.DeltaReceived(id, text)
	}
}

func (h *turnHandler) OnError(message string) {
	h.turn.StreamErrors = append(h.turn.StreamErrors, message)
	h.c.annotate(h.turn.ConversationID, message)
}
