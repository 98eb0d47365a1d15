// Package apierror centralizes the pipeline's stable, API-visible error
// codes and their HTTP status mapping, so handlers and background jobs
// share one error envelope.
package apierror

import (
	"errors"
	"net/http"
)

// Code is a stable, API-visible error code.
type Code string

const (
	// Input errors.
	CodeInvalidFile       Code = "InvalidFile"
	CodeUnsupportedFormat Code = "UnsupportedFormat"
	CodeCorruptedGeometry Code = "CorruptedGeometry"
	CodeUnsupportedCRS    Code = "UnsupportedCRS"
	CodeLayerNotFound     Code = "LayerNotFound"
	CodeInvalidScope      Code = "InvalidScope"

	// State errors.
	CodeInvalidTransition  Code = "InvalidTransition"
	CodeConflictingJob     Code = "ConflictingJob"
	CodeConflictingPublish Code = "ConflictingPublish"

	// Validation errors.
	CodeValidationBlocked Code = "ValidationBlocked"

	// Infrastructure errors.
	CodeSnapshotFailed     Code = "SnapshotFailed"
	CodeAssetWriteFailed   Code = "AssetWriteFailed"
	CodeIntegrityViolation Code = "IntegrityViolation"
	CodeTimedOut           Code = "TimedOut"
	CodeCancelled          Code = "Cancelled"
	CodeNotFound           Code = "NotFound"
	CodeInternal           Code = "Internal"
)

// Error is the taxonomy's concrete error type: a stable code plus a
// human-readable message, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return string(e.Code) + ": " + e.Message
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: nil}
}

// Wrap builds an *Error wrapping an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels usable with errors.Is for codes that don't need a message built
// at the call site (they're compared against, not constructed fresh).
var (
	ErrInvalidScope       = New(CodeInvalidScope, "malformed importScope")
	ErrLayerNotFound      = New(CodeLayerNotFound, "layer not found")
	ErrUnsupportedCRS     = New(CodeUnsupportedCRS, "CRS is not in the recognized set")
	ErrInvalidTransition  = New(CodeInvalidTransition, "invalid state transition")
	ErrConflictingJob     = New(CodeConflictingJob, "a non-terminal job already exists for this version")
	ErrConflictingPublish = New(CodeConflictingPublish, "another publish or rollback is in progress")
	ErrValidationBlocked  = New(CodeValidationBlocked, "validation has blocking errors")
	ErrNotFound           = New(CodeNotFound, "resource not found")
)

// Is implements the errors.Is protocol by code equality, so a freshly
// constructed *Error with the same code as a sentinel compares equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}

	return false
}

// HTTPStatus maps a Code to its HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidFile, CodeUnsupportedFormat, CodeCorruptedGeometry, CodeUnsupportedCRS,
		CodeLayerNotFound, CodeInvalidScope, CodeInvalidTransition, CodeValidationBlocked:
		return http.StatusBadRequest
	case CodeConflictingJob, CodeConflictingPublish:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeSnapshotFailed, CodeAssetWriteFailed, CodeIntegrityViolation, CodeTimedOut,
		CodeCancelled, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)

	return e, ok
}
