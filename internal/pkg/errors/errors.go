// Package errors provides the coded error type of the render service. Every
// failure that reaches the HTTP boundary carries one Code, which picks both
// the response status and the body shape.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Code classifies a failure.
type Code string

const (
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeRenderFailed      Code = "RENDER_FAILED"
	CodePostProcessFailed Code = "POSTPROCESS_FAILED"
	CodeIO                Code = "IO_FAILURE"
	CodeTimeout           Code = "TIMEOUT"
	CodeResourceExhaust   Code = "RESOURCE_EXHAUSTED"
)

var statusByCode = map[Code]int{
	CodeValidation:      http.StatusBadRequest,
	CodeResourceExhaust: http.StatusTooManyRequests,
	CodeTimeout:         http.StatusGatewayTimeout,
}

// Error is a failure with a code, the client-facing message, the operation
// that failed and its cause.
type Error struct {
	Code Code
	// Message is what the client sees (e.g. "Failed to generate image").
	Message string
	// Op names the failing step (e.g. "job.render").
	Op     string
	Err    error
	Fields map[string]any
	Stack  []Frame
}

// Frame represents a single stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// Detail returns the text of the underlying cause, or "" when there is none.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// WithField attaches a log field to the error and returns it.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// HTTPStatus returns the response status for the error's code. Stage, IO and
// internal failures are all 500.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// StackTrace returns the stack trace as a formatted string.
func (e *Error) StackTrace() string {
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

// New creates an error without a cause.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap classifies err under code. It returns nil when err is nil.
func Wrap(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   captureStack(2),
	}
}

// ValidationField creates a validation error for a specific field.
func ValidationField(field string, message string) *Error {
	return New(CodeValidation, message).WithField("field", field)
}

// GetCode returns the code of the first *Error in err's chain, or
// CodeInternal for anything unclassified.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

func IsCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

func IsTimeout(err error) bool {
	return IsCode(err, CodeTimeout)
}

// captureStack records up to ten non-runtime frames above its caller.
func captureStack(skip int) []Frame {
	var pcs [32]uintptr
	n := runtime.Callers(skip+1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	out := make([]Frame, 0, 10)
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "runtime/") {
			out = append(out, Frame{File: f.File, Line: f.Line, Function: f.Function})
		}
		if !more || len(out) >= 10 {
			return out
		}
	}
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is a convenience wrapper for errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
