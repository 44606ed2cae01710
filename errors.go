package antipark

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrorCode is a high-level failure category. Every engine error is
// fatal to the daemon: a control loop that cannot read activity or
// touch the disk has no degraded mode worth running in.
type ErrorCode string

const (
	// ErrCodeProbe means the device statistics source could not be
	// read or parsed.
	ErrCodeProbe ErrorCode = "probe failure"

	// ErrCodeTouch means the anti-park touch write failed.
	ErrCodeTouch ErrorCode = "touch failure"

	// ErrCodeSync means the write-back flush failed.
	ErrCodeSync ErrorCode = "sync failure"

	// ErrCodeConfig means a configuration value is out of bounds.
	ErrCodeConfig ErrorCode = "invalid configuration"
)

// Error is a structured engine error naming the failing device or
// path alongside the underlying cause.
type Error struct {
	Op     string        // operation that failed ("sample", "touch", ...)
	Device string        // monitored block device, if applicable
	Path   string        // file path involved, if applicable
	Code   ErrorCode     // high-level category
	Errno  syscall.Errno // kernel errno, 0 if not applicable
	Msg    string        // human-readable message
	Inner  error         // wrapped cause
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}
	if e.Device != "" {
		parts = append(parts, "device="+e.Device)
	}
	if e.Path != "" {
		parts = append(parts, "path="+e.Path)
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", int(e.Errno)))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Inner != nil {
		msg = msg + ": " + e.Inner.Error()
	}

	if len(parts) > 0 {
		return fmt.Sprintf("antipark: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return "antipark: " + msg
}

// Unwrap returns the wrapped cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches two structured errors by code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// NewError creates a structured error with a fixed message.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError wraps an underlying error with engine context, extracting
// the kernel errno when one is present in the chain.
func WrapError(op string, code ErrorCode, inner error) *Error {
	e := &Error{Op: op, Code: code, Inner: inner}
	var errno syscall.Errno
	if errors.As(inner, &errno) {
		e.Errno = errno
	}
	return e
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

func newConfigError(field, msg string) *Error {
	return &Error{Op: "validate", Code: ErrCodeConfig, Msg: field + " " + msg}
}
