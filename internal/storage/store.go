// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/util"
)

// Backend names accepted by New.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// PreviewLength is the rune limit of ConversationMeta.Preview.
const PreviewLength = 80

// Store persists conversations.
type Store interface {
	// Save inserts or replaces a conversation.
	Save(conv model.Conversation) error

	// Load returns the conversation with id, or ErrConversationNotFound.
	Load(id string) (model.Conversation, error)

	// List returns metadata for every stored conversation, most recently
	// updated first.
	List() ([]ConversationMeta, error)

	// Delete removes a conversation, or returns ErrConversationNotFound.
	Delete(id string) error

	// SaveActiveID remembers the conversation to resume next run.
	SaveActiveID(id string) error

	// LoadActiveID returns the remembered conversation id, "" if none.
	LoadActiveID() (string, error)

	Close() error
}

// ConversationMeta is the listing view of a conversation.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // first user message, truncated
}

// MetaOf summarizes conv.
func MetaOf(conv model.Conversation) ConversationMeta {
	preview, _ := conv.FirstUserMessage()
	return ConversationMeta{
		ID:           conv.ID,
		Title:        conv.GetTitle(),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		MessageCount: conv.MessageCount(),
		Preview:      util.TruncateRunes(util.CollapseWhitespace(preview), PreviewLength),
	}
}

// New opens the named backend under dir. An empty name selects JSON.
func New(backend, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendJSON:
		return NewFileStore(filepath.Join(dir, "conversations"))
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(dir, "conversations.db"))
	case BackendNone:
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrInvalidID is returned for ids that cannot name a stored conversation.
var ErrInvalidID = &ConversationError{Message: "invalid conversation id"}

// ErrUnknownBackend is returned by New for unsupported backend names.
var ErrUnknownBackend = &ConversationError{Message: "unknown storage backend"}

// ConversationError represents a conversation-related error.
// It implements the error interface and can be compared using errors.Is.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// validID rejects ids that are empty or could escape the storage directory.
func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return ErrInvalidID
	}
	return nil
}

// =============================================================================
// DISCARD
// =============================================================================

// Discard is a Store that keeps nothing.
type Discard struct{}

func (Discard) Save(model.Conversation) error { return nil }

func (Discard) Load(string) (model.Conversation, error) {
	return model.Conversation{}, ErrConversationNotFound
}

func (Discard) List() ([]ConversationMeta, error) { return []ConversationMeta{}, nil }
func (Discard) Delete(string) error               { return ErrConversationNotFound }
func (Discard) SaveActiveID(string) error         { return nil }
func (Discard) LoadActiveID() (string, error)     { return "", nil }
func (Discard) Close() error                      { return nil }
