package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejected operation
type ErrorKind string

// Error kinds
const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindExternal      ErrorKind = "external"
)

// Error is a structured, user-presentable rejection. Infrastructure failures
// are never wrapped in it.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Code      string    `json:"error"`
	Message   string    `json:"message"`
	Resource  string    `json:"resource,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
}

func (e *Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Resource)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validation ...
func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

// Forbidden ...
func Forbidden(code, msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: msg}
}

// NotFound ...
func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Conflict names the resource whose state blocked the transition
func Conflict(code, msg, resource string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg, Resource: resource}
}

// External is a retryable failure of an outside collaborator
func External(code, msg string) *Error {
	return &Error{Kind: KindExternal, Code: code, Message: msg, Retryable: true}
}

// AsError extracts a structured error from err
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a structured error of kind k
func IsKind(err error, k ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == k
}
