// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/jeranaias/relaychat/internal/ollama"
	"github.com/jeranaias/relaychat/internal/sse"
)

// ============================================================================
// VALIDATION
// ============================================================================

// ValidationError is a rejected relay request. Its message is sent to the
// client verbatim in the error frame.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid format: '%s' %s", e.Field, e.Message)
}

// relayRequest keeps messages raw so its shape can be checked before
// decoding the entries.
type relayRequest struct {
	Messages json.RawMessage `json:"messages"`
}

// relayEntry is one caller-supplied message. Role and content stay raw so
// non-string values can be dropped instead of failing the request.
type relayEntry struct {
	Role    json.RawMessage `json:"role"`
	Content json.RawMessage `json:"content"`
}

// decodeHistory reads the request body and returns the usable history.
func (s *Server) decodeHistory(w http.ResponseWriter, r *http.Request) ([]ollama.Message, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &ValidationError{Field: "body", Message: fmt.Sprintf("exceeds %d bytes", tooLarge.Limit)}
		}
		return nil, &ValidationError{Field: "body", Message: "must be a JSON object"}
	}

	var entries []json.RawMessage
	if len(req.Messages) == 0 || json.Unmarshal(req.Messages, &entries) != nil || entries == nil {
		return nil, &ValidationError{Field: "messages", Message: "must be an array"}
	}

	return FilterHistory(entries), nil
}

// FilterHistory keeps the entries whose role is user or assistant and whose
// content is a string. Anything else, including null or non-object entries,
// is dropped silently.
func FilterHistory(entries []json.RawMessage) []ollama.Message {
	out := make([]ollama.Message, 0, len(entries))
	for _, raw := range entries {
		var entry relayEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		var role, content string
		if json.Unmarshal(entry.Role, &role) != nil {
			continue
		}
		if role != "user" && role != "assistant" {
			continue
		}
		if len(entry.Content) == 0 || entry.Content[0] != '"' || json.Unmarshal(entry.Content, &content) != nil {
			continue
		}
		out = append(out, ollama.Message{Role: role, Content: content})
	}
	return out
}

// ============================================================================
// CHAT STREAM HANDLER
// ============================================================================

// handleChatStream relays one turn. Every outcome ends the stream cleanly:
// rejected input, upstream failures, read failures and panics all become a
// single error frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	s.stats.Requests.Add(1)
	start := time.Now()
	clientIP := GetClientIP(r)
	settings := s.Settings()

	// The body must be consumed before the header is flushed: an HTTP/1.x
	// server discards unread request bodies once the response starts.
	history, err := s.decodeHistory(w, r)

	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	em := sse.NewEmitter(w)
	em.Flush()

	defer func() {
		if p := recover(); p != nil {
			log.Printf("PANIC_RECOVERED | method=%s path=%s error=%v\n%s", r.Method, r.URL.Path, p, debug.Stack())
			s.stats.Failed.Add(1)
			em.Error("internal relay error")
		}
	}()

	if err != nil {
		s.stats.ValidationFailures.Add(1)
		log.Printf("RELAY_REJECTED | ip=%s error=%v", clientIP, err)
		em.Error(err.Error())
		return
	}

	outgoing := make([]ollama.Message, 0, len(history)+1)
	outgoing = append(outgoing, ollama.NewSystemMessage(settings.SystemPrompt))
	outgoing = append(outgoing, history...)

	log.Printf("RELAY_START | ip=%s model=%s messages=%d", clientIP, settings.Model, len(history))

	body, err := s.upstream.OpenChatStream(r.Context(), settings.Model, outgoing)
	if err != nil {
		s.fail(em, clientIP, err)
		return
	}
	defer body.Close()

	lines := ollama.NewLineReader(body)
	stats, err := em.Forward(lines)
	s.stats.Fragments.Add(int64(stats.Deltas))
	s.stats.Bytes.Add(int64(stats.Bytes))
	if err != nil {
		s.fail(em, clientIP, err)
		return
	}

	s.stats.Completed.Add(1)
	tokens := 0
	if stats.Upstream != nil {
		tokens = stats.Upstream.OutputTokens
	}
	log.Printf("RELAY_COMPLETE | ip=%s fragments=%d tokens=%d done=%t skipped_lines=%d duration=%v",
		clientIP, stats.Deltas, tokens, stats.Finished, lines.Skipped(), time.Since(start).Round(time.Millisecond))
}

// fail writes the error frame for err. If the client is already gone the
// write fails too; that is only logged.
func (s *Server) fail(em *sse.Emitter, clientIP string, err error) {
	s.stats.Failed.Add(1)
	log.Printf("RELAY_ERROR | ip=%s error=%v", clientIP, err)
	if werr := em.Error(upstreamMessage(err)); werr != nil && !errors.Is(werr, sse.ErrClosed) {
		log.Printf("RELAY_ERROR_UNDELIVERED | ip=%s error=%v", clientIP, werr)
	}
}

// upstreamMessage turns a pipeline error into text for the error frame.
func upstreamMessage(err error) string {
	switch {
	case ollama.IsNotRunning(err):
		return "model service unavailable: check that Ollama is running"
	case ollama.IsModelNotFound(err):
		return err.Error() + ": pull it with 'ollama pull'"
	case ollama.IsTimeout(err):
		return "model service timed out"
	default:
		return err.Error()
	}
}
