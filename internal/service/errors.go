package service

import (
	"errors"
	"fmt"

	"isla-market/internal/store"
)

// Kind classifies a service failure; the API layer maps each kind to one status
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is the error type returned by every service operation
type Error struct {
	Kind    Kind
	Message string
	Err     error
	// Fields are extra response fields, e.g. current_status on a rejected cancel
	Fields map[string]interface{}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation builds a 400-class error
func Validation(msg string) *Error { return newError(KindValidation, msg, nil) }

// Unauthorized builds a 401-class error
func Unauthorized(msg string) *Error { return newError(KindUnauthorized, msg, nil) }

// Forbidden builds a 403-class error
func Forbidden(msg string) *Error { return newError(KindForbidden, msg, nil) }

// NotFound builds a 404-class error
func NotFound(msg string) *Error { return newError(KindNotFound, msg, nil) }

// Conflict builds a 409-class error
func Conflict(msg string, err error) *Error { return newError(KindConflict, msg, err) }

// Internal wraps an upstream failure
func Internal(msg string, err error) *Error { return newError(KindInternal, msg, err) }

// With attaches an extra response field
func (e *Error) With(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// KindOf returns the kind of err, KindInternal when it is not a service error
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// fromStore converts store sentinels into service errors
func fromStore(err error, notFoundMsg, conflictMsg string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newError(KindNotFound, notFoundMsg, err)
	case errors.Is(err, store.ErrConflict):
		return newError(KindConflict, conflictMsg, err)
	default:
		return newError(KindInternal, "database error", err)
	}
}
