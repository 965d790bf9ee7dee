// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
	emptyData   = "{}"
)

var frameDelimiter = []byte("\n\n")

// Parser reads Frames from a relay response body. The body may arrive in
// any chunking; bytes are buffered until a blank line completes a frame.
// Bytes left unterminated when the body ends are discarded.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	src    io.Reader
	buf    []byte
	chunk  []byte
	srcErr error
}

// NewParser creates a Parser over r.
func NewParser(r io.Reader) *Parser {
	return &Parser{
		src:   r,
		chunk: make([]byte, 4096),
	}
}

// Next returns the next Frame. It returns io.EOF when the body ends, or the
// underlying read error if the body fails.
func (p *Parser) Next() (Frame, error) {
	for {
		if i := bytes.Index(p.buf, frameDelimiter); i >= 0 {
			segment := string(p.buf[:i])
			p.buf = p.buf[i+len(frameDelimiter):]
			return ParseFrame(segment), nil
		}

		if p.srcErr != nil {
			p.buf = nil
			return Frame{}, p.srcErr
		}

		n, err := p.src.Read(p.chunk)
		if n > 0 {
			p.buf = append(p.buf, p.chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.EOF
			}
			p.srcErr = err
		}
	}
}

// ParseFrame parses one blank-line delimited segment. The event and data
// lines may appear in either order; other lines are ignored.
func ParseFrame(segment string) Frame {
	var (
		event   string
		data    = emptyData
		seenEvt bool
		seenDat bool
	)
	for _, line := range strings.Split(segment, "\n") {
		switch {
		case !seenEvt && strings.HasPrefix(line, eventPrefix):
			event = strings.TrimSpace(strings.TrimPrefix(line, eventPrefix))
			seenEvt = true
		case !seenDat && strings.HasPrefix(line, dataPrefix):
			data = strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
			seenDat = true
		}
	}
	return Frame{Event: event, Data: data, Payload: decodePayload(data)}
}

// =============================================================================
// DISPATCH
// =============================================================================

// UnknownError is reported for error frames without a message.
const UnknownError = "unknown error"

// Handler receives the frames that require action.
type Handler interface {
	// OnDelta is called with the text of each delta frame.
	OnDelta(text string)

	// OnError is called with the message of each error frame.
	OnError(message string)
}

// Dispatch routes f to h. Done frames and unknown events are ignored; the
// end of the body, not a done frame, ends a turn.
func Dispatch(f Frame, h Handler) {
	switch f.Event {
	case EventDelta:
		if f.Payload.Delta != "" {
			h.OnDelta(f.Payload.Delta)
		}
	case EventError:
		msg := f.Payload.Error
		if msg == "" {
			msg = UnknownError
		}
		h.OnError(msg)
	}
}

// Consume reads every frame from p and dispatches it to h until the body
// ends. It returns nil on a clean end of body and the read error otherwise.
func Consume(p *Parser, h Handler) error {
	for {
		f, err := p.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		Dispatch(f, h)
	}
}
