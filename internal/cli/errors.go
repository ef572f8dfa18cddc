// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for billdash commands.
//
// Handlers return errors and never exit. main maps the error to an exit code
// with ExitCode and prints it with DisplayError.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/billdash/internal/auth"
	"github.com/jeranaias/billdash/internal/config"
	"github.com/jeranaias/billdash/internal/export"
	"github.com/jeranaias/billdash/internal/jobclient"
	"github.com/jeranaias/billdash/internal/poller"
	"github.com/jeranaias/billdash/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // e.g. "submit"
	Action  string // e.g. "upload"
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error { return e.Err }

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

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string // e.g. "run", "job"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason, Example: example}
}

// ErrMissingArgument creates an error for a missing required argument.
func ErrMissingArgument(argName, usage string) error {
	return NewValidationErrorWithExample(argName, "", "required argument missing", usage)
}

// ErrUnsupportedFormat creates an error for an unknown export format.
func ErrUnsupportedFormat(format string, supported []string) error {
	return NewValidationErrorWithExample("format", format, "unsupported format",
		fmt.Sprintf("supported formats: %v", supported))
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		cfgErr        config.ValidationError
		cfgErrs       config.ValidateErrors
		clientErr     *jobclient.ClientError
	)
	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, poller.ErrNoFile),
		errors.Is(err, poller.ErrNotPDF),
		errors.Is(err, poller.ErrInvalidReplicas):
		return ExitUsageError

	case errors.As(err, &cfgErr), errors.As(err, &cfgErrs):
		return ExitConfigError

	case errors.Is(err, auth.ErrNoToken), errors.Is(err, auth.ErrDecryptionFailed):
		return ExitAuthError

	case errors.As(err, &notFoundErr), errors.Is(err, storage.ErrNotFound):
		return ExitNotFoundError

	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	}

	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case jobclient.ErrTypeUnauthorized:
			return ExitAuthError
		case jobclient.ErrTypeNetwork, jobclient.ErrTypeServer:
			return ExitNetworkError
		case jobclient.ErrTypeTimeout:
			return ExitTimeoutError
		case jobclient.ErrTypeNotFound:
			return ExitNotFoundError
		case jobclient.ErrTypeValidation:
			return ExitUsageError
		}
	}
	if errors.Is(err, export.ErrEmptyReport) {
		return ExitNotFoundError
	}
	return ExitGeneralError
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err in human or JSON form.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		resp := NewJSONErrorResponse(command, err)
		resp.Details = errorDetails(err)
		_ = resp.Write(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

func errorDetails(err error) map[string]any {
	out := map[string]any{"exit_code": ExitCode(err)}

	var (
		cmdErr    *CommandError
		valErr    *ValidationError
		nfErr     *NotFoundError
		clientErr *jobclient.ClientError
	)
	switch {
	case errors.As(err, &cmdErr):
		out["error_type"] = "command_error"
		out["action"] = cmdErr.Action
		out["reason"] = cmdErr.Reason
	case errors.As(err, &valErr):
		out["error_type"] = "validation_error"
		out["field"] = valErr.Field
		out["value"] = valErr.Value
	case errors.As(err, &nfErr):
		out["error_type"] = "not_found_error"
		out["resource"] = nfErr.Resource
		out["id"] = nfErr.ID
	default:
		out["error_type"] = "generic_error"
	}
	if errors.As(err, &clientErr) {
		out["service_error"] = clientErr.Type.String()
		if clientErr.Status != 0 {
			out["http_status"] = clientErr.Status
		}
	}
	return out
}
