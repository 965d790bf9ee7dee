// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
)

// Sentinel errors for refused operations.
var (
	// ErrEmptyInput is returned when the input is blank after trimming.
	ErrEmptyInput = errors.New("empty input")

	// ErrTurnInFlight is returned when the conversation is already streaming.
	ErrTurnInFlight = errors.New("a reply is still streaming in this conversation")

	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")
)

// TransportError is a failure to reach the relay or to read its stream.
type TransportError struct {
	Status  int // HTTP status, 0 when no response was received
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}
