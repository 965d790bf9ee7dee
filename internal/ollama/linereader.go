// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// =============================================================================
// LINE READER
// =============================================================================

// DefaultReadSize is the size of each read from the upstream body.
const DefaultReadSize = 4096

// Record is one decoded upstream line worth relaying.
type Record struct {
	// Fragment is the generated text carried by the line, possibly empty.
	Fragment string

	// Final is set when the line carried the completion flag.
	Final bool

	// Stats is populated on final records.
	Stats *Stats
}

// LineReader splits an upstream NDJSON body into Records. Reads may return
// any number of bytes, so lines (and the UTF-8 sequences inside them) are
// reassembled in a byte buffer before decoding.
//
// Blank lines and lines that fail to decode are skipped. Lines yielding
// neither a fragment nor the completion flag produce no Record. Bytes left
// without a terminating newline when the body ends are discarded.
//
// A LineReader is not safe for concurrent use.
type LineReader struct {
	src   io.Reader
	buf   []byte
	chunk []byte

	srcErr error // first error from src, returned once buf has no complete line
	lines  int
	skips  int
}

// NewLineReader creates a LineReader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{
		src:   r,
		chunk: make([]byte, DefaultReadSize),
	}
}

// Next returns the next Record. It returns io.EOF once the body is
// exhausted; any other error is a read failure wrapped in a *ClientError.
func (r *LineReader) Next() (Record, error) {
	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			line := r.buf[:i]
			r.buf = r.buf[i+1:]
			if rec, ok := r.decode(line); ok {
				return rec, nil
			}
			continue
		}

		if r.srcErr != nil {
			// Unterminated trailing bytes are dropped.
			r.buf = nil
			if errors.Is(r.srcErr, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, &ClientError{Type: ErrTypeStreamRead, Message: "upstream stream read failed", Cause: r.srcErr}
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}
		if err != nil {
			r.srcErr = err
		}
	}
}

// Lines returns how many complete lines have been consumed.
func (r *LineReader) Lines() int {
	return r.lines
}

// Skipped returns how many lines were dropped as blank or malformed.
func (r *LineReader) Skipped() int {
	return r.skips
}

func (r *LineReader) decode(line []byte) (Record, bool) {
	r.lines++
	if len(bytes.TrimSpace(line)) == 0 {
		r.skips++
		return Record{}, false
	}

	var parsed chatLine
	if err := json.Unmarshal(line, &parsed); err != nil {
		// Partial or corrupted lines happen under load. A mistyped field
		// still leaves the rest of the line usable.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || typeErr.Field == "" {
			r.skips++
			return Record{}, false
		}
	}

	rec := Record{Fragment: parsed.fragment(), Final: parsed.Done}
	if rec.Fragment == "" && !rec.Final {
		return Record{}, false
	}
	if rec.Final {
		rec.Stats = &Stats{
			Model:         parsed.Model,
			DoneReason:    parsed.DoneReason,
			PromptTokens:  parsed.PromptEvalCount,
			OutputTokens:  parsed.EvalCount,
			TotalDuration: time.Duration(parsed.TotalDuration),
			EvalDuration:  time.Duration(parsed.EvalDuration),
		}
	}
	return rec, true
}
