// Package errors holds the error taxonomy shared by the ledger, the object
// system and the replication layer. Every raised error wraps one of the
// sentinels below, so callers match with errors.Is.
package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateItem    = errors.New("duplicate item")
	ErrItemNotFound     = errors.New("item not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidState     = errors.New("invalid state")
	ErrInternalError    = errors.New("internal error")
	ErrInvalidParams    = errors.New("invalid parameters")
)

// ErrorCode represents a numeric error code for efficient error handling
type ErrorCode int

const (
	CodeUnknown          ErrorCode = 0
	CodeDuplicateItem    ErrorCode = 1001
	CodeItemNotFound     ErrorCode = 1002
	CodePermissionDenied ErrorCode = 1003
	CodeInvalidState     ErrorCode = 1004
	CodeInternalError    ErrorCode = 1005
	CodeInvalidParams    ErrorCode = 1006
)

var codeSentinels = map[ErrorCode]error{
	CodeDuplicateItem:    ErrDuplicateItem,
	CodeItemNotFound:     ErrItemNotFound,
	CodePermissionDenied: ErrPermissionDenied,
	CodeInvalidState:     ErrInvalidState,
	CodeInternalError:    ErrInternalError,
	CodeInvalidParams:    ErrInvalidParams,
}

func (c ErrorCode) String() string {
	if s, ok := codeSentinels[c]; ok {
		return s.Error()
	}
	return "unknown error"
}

// Error carries the code, the raising operation and optional key/value context.
type Error struct {
	Code      ErrorCode
	Message   string
	Op        string
	Cause     error
	Context   map[string]any
	Timestamp int64
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel of the code and the optional cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s, ok := codeSentinels[e.Code]; ok {
		out = append(out, s)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Op:        op,
		Timestamp: time.Now().Unix(),
	}
}

func DuplicateItem(op, format string, args ...any) *Error {
	return newError(CodeDuplicateItem, op, format, args...)
}

func ItemNotFound(op, format string, args ...any) *Error {
	return newError(CodeItemNotFound, op, format, args...)
}

func PermissionDenied(op, format string, args ...any) *Error {
	return newError(CodePermissionDenied, op, format, args...)
}

func InvalidState(op, format string, args ...any) *Error {
	return newError(CodeInvalidState, op, format, args...)
}

func InternalError(op, format string, args ...any) *Error {
	return newError(CodeInternalError, op, format, args...)
}

func InvalidParams(op, format string, args ...any) *Error {
	return newError(CodeInvalidParams, op, format, args...)
}

// Wrap attaches a code and operation to an arbitrary cause.
func Wrap(code ErrorCode, op string, cause error, message string) *Error {
	e := newError(code, op, "%s", message)
	e.Cause = cause
	return e
}

// Code returns the ErrorCode carried by err, matching sentinels as well.
func Code(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Is and As mirror the standard library so callers need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }

func Join(errs ...error) error { return errors.Join(errs...) }
