// Package apierr translates internal component failures into the HTTP
// error taxonomy used across every handler in internal/httpapi.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the stable error kinds an API response may report.
type Kind string

const (
	KindParseError         Kind = "parse_error"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindConflict           Kind = "conflict"
	KindValidationError    Kind = "validation_error"
	KindNotFound           Kind = "not_found"
	KindBusy               Kind = "busy"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindParseError:         http.StatusBadRequest,
	KindStorageUnavailable: http.StatusServiceUnavailable,
	KindConflict:           http.StatusConflict,
	KindValidationError:    http.StatusBadRequest,
	KindNotFound:           http.StatusNotFound,
	KindBusy:               http.StatusConflict,
	KindCanceled:           http.StatusGone,
	KindInternal:           http.StatusInternalServerError,
}

// Error is the typed error every internal component should return when a
// failure needs to reach an HTTP caller with a specific kind and status.
type Error struct {
	Kind   Kind
	Detail string
	JobID  string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status returns the HTTP status code associated with e.Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func new(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

func ParseError(detail string) *Error { return new(KindParseError, detail, nil) }

func StorageUnavailable(detail string, cause error) *Error {
	return new(KindStorageUnavailable, detail, cause)
}

func Conflict(detail string) *Error { return new(KindConflict, detail, nil) }

func ValidationError(detail string) *Error { return new(KindValidationError, detail, nil) }

func NotFound(detail string) *Error { return new(KindNotFound, detail, nil) }

// Busy reports a 409 with the job id currently holding the resource, per
// spec's concurrent-submission rule for purge/import/cleanup jobs.
func Busy(detail, holderJobID string) *Error {
	e := new(KindBusy, detail, nil)
	e.JobID = holderJobID
	return e
}

func Canceled(detail string) *Error { return new(KindCanceled, detail, nil) }

func Internal(cause error) *Error {
	detail := "internal error"
	if cause != nil {
		detail = cause.Error()
	}
	return new(KindInternal, detail, cause)
}

// As translates any error into an *Error, defaulting to KindInternal for
// anything that wasn't already produced by this package — the
// "unknown errors become internal" propagation rule.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}
