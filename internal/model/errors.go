package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies task failures for clients and operators.
type ErrorKind string

const (
	// KindValidation rejects a malformed request before a task is created.
	KindValidation ErrorKind = "validation"
	// KindNoData means the upstream had no usable cloud-free pixels;
	// resubmitting with different parameters may succeed.
	KindNoData ErrorKind = "no_data"
	// KindTransient covers network errors, timeouts, and upstream 5xx;
	// resubmitting the same request later may succeed.
	KindTransient ErrorKind = "transient_upstream"
	// KindAuth means misconfigured upstream credentials. Fatal until an
	// operator fixes configuration; never worth resubmitting.
	KindAuth ErrorKind = "auth"
	// KindInternal is an unexpected failure caught at the worker boundary.
	KindInternal ErrorKind = "internal"
	// KindCancelled marks a processing task failed on request.
	KindCancelled ErrorKind = "cancelled"
)

// Error is the task-visible failure: kind plus a client-safe message.
// Internal detail (stack traces, upstream response bodies with credentials)
// belongs in logs, never here.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a classified error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify maps any error to a task-visible *Error. Already-classified
// errors pass through; everything else becomes kind=internal with a generic
// message so unexpected detail never leaks to clients.
func Classify(err error) *Error {
	var terr *Error
	if errors.As(err, &terr) {
		return terr
	}
	return &Error{Kind: KindInternal, Message: "an unexpected server error occurred"}
}
