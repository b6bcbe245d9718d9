// Package errs defines the error taxonomy shared by the engine, the notes
// service and the HTTP layer.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for callers that need to react to it.
type Kind string

const (
	// KindValidation marks a malformed request or snapshot.
	KindValidation Kind = "VALIDATION"
	// KindNotFound marks an operation on a thought that does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindTargetNotFound marks a link whose target thought does not exist.
	KindTargetNotFound Kind = "TARGET_NOT_FOUND"
	// KindUnavailable marks an external collaborator that cannot serve the request.
	KindUnavailable Kind = "UNAVAILABLE"
	// KindInternal marks everything else.
	KindInternal Kind = "INTERNAL"
)

// Error is a classified error.
type Error struct {
	Kind    Kind
	Message string
	// Missing lists the unknown target ids for KindTargetNotFound.
	Missing []string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, errs.ErrNotFound) works on wrapped values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Kind)
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrTargetNotFound = &Error{Kind: KindTargetNotFound}
	ErrUnavailable    = &Error{Kind: KindUnavailable}
)

// Validation creates a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error for the given thought id.
func NotFound(id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("thought %s not found", id)}
}

// TargetNotFound creates an error naming the missing link targets.
func TargetNotFound(source string, missing []string) *Error {
	return &Error{
		Kind:    KindTargetNotFound,
		Message: fmt.Sprintf("thought %s links to unknown target(s): %s", source, strings.Join(missing, ", ")),
		Missing: missing,
	}
}

// Unavailable wraps a failure of an external collaborator.
func Unavailable(message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRejection reports whether err rejects a single thought rather than the
// whole request. Validation and missing link targets are rejections;
// storage failures are not.
func IsRejection(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindTargetNotFound:
		return true
	default:
		return false
	}
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation, KindTargetNotFound:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
