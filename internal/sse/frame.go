// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"errors"
)

// Event names used on the wire.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// ContentType is the media type of a relay response.
const ContentType = "text/event-stream; charset=utf-8"

// DeltaPayload is the data of a delta frame.
type DeltaPayload struct {
	Delta string `json:"delta"`
}

// DonePayload is the data of a done frame.
type DonePayload struct {
	OK bool `json:"ok"`
}

// ErrorPayload is the data of an error frame.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Payload is the decoded data of any frame. Fields absent on the wire are
// left at their zero values.
type Payload struct {
	Delta string `json:"delta,omitempty"`
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// Frame is one parsed event.
type Frame struct {
	// Event is the event name, "" when the frame had no event line.
	Event string

	// Data is the raw data text, "{}" when the frame had no data line.
	Data string

	// Payload is Data decoded, or empty when Data is not a JSON object of
	// the expected shape.
	Payload Payload
}

// decodePayload never fails: data that is not JSON yields the empty payload.
// A field of the wrong type is left empty and the others are kept.
func decodePayload(data string) Payload {
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return p
		}
		return Payload{}
	}
	return p
}
