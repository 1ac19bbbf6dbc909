// Package domain defines the error taxonomy shared across the build pipeline.
package domain

import (
	"errors"
	"fmt"
)

// Error represents a classified pipeline error.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes
const (
	// ErrCodeConfigInvalid marks configuration errors (unsupported stack,
	// malformed buildpack URL). Raised before any delegated call, never
	// retried.
	ErrCodeConfigInvalid = "CONFIG_INVALID"

	// ErrCodeMissingArtifact marks an expected artifact that was not
	// produced, e.g. no Procfile after compile.
	ErrCodeMissingArtifact = "ARTIFACT_MISSING"

	// ErrCodeProcfileParse marks a malformed process declaration line.
	ErrCodeProcfileParse = "PROCFILE_PARSE"

	// ErrCodeToolFailed marks a delegated tool failure (clone, compile,
	// build, push). The invocation log is preserved for postmortem.
	ErrCodeToolFailed = "TOOL_FAILED"

	// ErrCodePushConflict marks the push policy violation: the computed
	// tag is already present on the registry. This signals operator
	// intent conflict, not infrastructure failure.
	ErrCodePushConflict = "PUSH_CONFLICT"

	// ErrCodeNotFound marks a missing record or service.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeInvalidInput marks a rejected API request.
	ErrCodeInvalidInput = "INVALID_INPUT"

	// ErrCodeInternal marks everything else.
	ErrCodeInternal = "INTERNAL_ERROR"
)

// NewError creates a classified error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorWithCause creates a classified error wrapping a cause.
func NewErrorWithCause(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code string) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}
