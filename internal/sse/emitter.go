// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/relaychat/internal/ollama"
)

// ErrClosed is returned by writes after a done or error frame.
var ErrClosed = errors.New("event stream closed")

// RecordSource yields upstream records until io.EOF.
type RecordSource interface {
	Next() (ollama.Record, error)
}

// ForwardStats summarizes one Forward call.
type ForwardStats struct {
	Deltas   int
	Bytes    int
	Finished bool          // a done frame was written
	Upstream *ollama.Stats // metrics from the final record, if any
}

// SetHeaders prepares a response for streaming events. Proxy buffering is
// disabled so frames reach the client as they are written.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Emitter writes frames to a response, flushing after each one. After a
// done or error frame the stream is closed and every further write returns
// ErrClosed, so at most one error frame is ever written and nothing follows
// it.
//
// An Emitter is not safe for concurrent use.
type Emitter struct {
	w       io.Writer
	flusher http.Flusher
	closed  bool
	errored bool
	frames  int
}

// NewEmitter creates an Emitter over w. Frames are flushed when w
// implements http.Flusher.
func NewEmitter(w io.Writer) *Emitter {
	e := &Emitter{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Delta writes a delta frame.
func (e *Emitter) Delta(text string) error {
	return e.write(EventDelta, DeltaPayload{Delta: text}, false)
}

// Done writes the terminal done frame and closes the stream.
func (e *Emitter) Done() error {
	return e.write(EventDone, DonePayload{OK: true}, true)
}

// Error writes the single error frame and closes the stream.
func (e *Emitter) Error(message string) error {
	if err := e.write(EventError, ErrorPayload{Error: message}, true); err != nil {
		return err
	}
	e.errored = true
	return nil
}

// Flush pushes buffered output, headers included, to the client.
func (e *Emitter) Flush() {
	if e.flusher != nil {
		e.flusher.Flush()
	}
}

// Closed reports whether a done or error frame has been written.
func (e *Emitter) Closed() bool {
	return e.closed
}

// Errored reports whether an error frame has been written.
func (e *Emitter) Errored() bool {
	return e.errored
}

// Frames returns the number of frames written.
func (e *Emitter) Frames() int {
	return e.frames
}

// Forward relays src: one delta frame per non-empty fragment, then a done
// frame when a final record arrives. It returns after the final record or
// when src reports io.EOF. Any other source or write error is returned and
// no error frame is written; reporting it is left to the caller.
func (e *Emitter) Forward(src RecordSource) (ForwardStats, error) {
	var stats ForwardStats
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		if rec.Fragment != "" {
			if err := e.Delta(rec.Fragment); err != nil {
				return stats, err
			}
			stats.Deltas++
			stats.Bytes += len(rec.Fragment)
		}

		if rec.Final {
			stats.Upstream = rec.Stats
			if err := e.Done(); err != nil {
				return stats, err
			}
			stats.Finished = true
			return stats, nil
		}
	}
}

func (e *Emitter) write(event string, payload any, terminal bool) error {
	if e.closed {
		return ErrClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}
	if terminal {
		e.closed = true
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	e.frames++
	e.Flush()
	return nil
}
