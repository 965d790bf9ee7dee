// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, exit codes and error display for CLI commands.
//
// Handlers always return errors; Run displays them once and maps them to
// an exit code.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/relaychat/internal/chat"
	"github.com/jeranaias/relaychat/internal/config"
	"github.com/jeranaias/relaychat/internal/ollama"
	"github.com/jeranaias/relaychat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the relay or model service could not be reached
	ExitNetworkError = 5
	// ExitStreamError indicates the reply stream reported an error
	ExitStreamError = 6
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitInterrupted indicates the user cancelled with Ctrl+C
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // e.g. "conversations"
	Action  string // e.g. "delete"
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents invalid user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// StreamError reports error frames received while streaming a reply.
type StreamError struct {
	Messages []string
}

func (e *StreamError) Error() string {
	if len(e.Messages) == 1 {
		return "stream error: " + e.Messages[0]
	}
	return fmt.Sprintf("stream error: %s (and %d more)", e.Messages[0], len(e.Messages)-1)
}

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// ErrMissingArgument creates an error for a missing required argument.
func ErrMissingArgument(argName, usage string) error {
	return &ValidationError{Field: argName, Reason: "required argument missing", Example: usage}
}

// ErrUnknownSubcommand creates an error for an unrecognized subcommand.
func ErrUnknownSubcommand(command, sub, usage string) error {
	return &ValidationError{Field: command + " subcommand", Value: sub, Reason: "unknown subcommand", Example: usage}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the exit code for err.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	var configErrs config.ValidateErrors
	var transportErr *chat.TransportError
	var streamErr *StreamError

	switch {
	case errors.As(err, &validationErr), errors.Is(err, chat.ErrEmptyInput):
		return ExitUsageError
	case errors.As(err, &configErrs):
		return ExitConfigError
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, context.DeadlineExceeded), ollama.IsTimeout(err):
		return ExitTimeoutError
	case errors.Is(err, storage.ErrConversationNotFound),
		errors.Is(err, chat.ErrConversationNotFound),
		ollama.IsModelNotFound(err):
		return ExitNotFoundError
	case errors.As(err, &transportErr), ollama.IsNotRunning(err):
		return ExitNetworkError
	case errors.As(err, &streamErr):
		return ExitStreamError
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Command == "config" {
		return ExitConfigError
	}
	return ExitGeneralError
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError displays an error in a consistent format.
func DisplayError(err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		DisplayErrorJSON(err)
		return
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	fmt.Fprintln(os.Stderr)
}

// DisplayErrorJSON outputs an error as JSON on stdout.
func DisplayErrorJSON(err error) {
	output := map[string]interface{}{
		"error":     err.Error(),
		"success":   false,
		"exit_code": GetExitCode(err),
	}

	var cmdErr *CommandError
	var validationErr *ValidationError
	var transportErr *chat.TransportError
	var streamErr *StreamError
	switch {
	case errors.As(err, &validationErr):
		output["error_type"] = "validation_error"
		output["field"] = validationErr.Field
		output["reason"] = validationErr.Reason
	case errors.As(err, &transportErr):
		output["error_type"] = "transport_error"
		if transportErr.Status != 0 {
			output["status"] = transportErr.Status
		}
	case errors.As(err, &streamErr):
		output["error_type"] = "stream_error"
		output["messages"] = streamErr.Messages
	case errors.As(err, &cmdErr):
		output["error_type"] = "command_error"
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
	default:
		output["error_type"] = "generic_error"
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(output)
}
