package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeValidation, "Invalid input")

	if err.Code != CodeValidation {
		t.Errorf("expected code=%s, got %s", CodeValidation, err.Code)
	}
	if err.Message != "Invalid input" {
		t.Errorf("expected message='Invalid input', got %s", err.Message)
	}
	if len(err.Stack) == 0 {
		t.Error("expected stack trace to be captured")
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "simple error",
			err:  New(CodeValidation, "invalid"),
			want: "[VALIDATION_ERROR] invalid",
		},
		{
			name: "error with op",
			err:  &Error{Code: CodeRenderFailed, Message: "Failed to generate image", Op: "job.render"},
			want: "job.render: [RENDER_FAILED] Failed to generate image",
		},
		{
			name: "error with cause",
			err:  &Error{Code: CodeIO, Message: "Failed to read image", Err: fmt.Errorf("no such file")},
			want: "[IO_FAILURE] Failed to read image: no such file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	original := fmt.Errorf("permission denied")
	wrapped := Wrap(original, CodeIO, "job.write", "Failed to write scene")

	if wrapped.Code != CodeIO {
		t.Errorf("expected code=%s, got %s", CodeIO, wrapped.Code)
	}
	if wrapped.Op != "job.write" {
		t.Errorf("expected op='job.write', got %s", wrapped.Op)
	}
	if wrapped.Detail() != "permission denied" {
		t.Errorf("expected detail='permission denied', got %q", wrapped.Detail())
	}
	if errors.Unwrap(wrapped) != original {
		t.Error("Unwrap should return original error")
	}
	if Wrap(nil, CodeIO, "op", "message") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestDetailWithoutCause(t *testing.T) {
	if d := New(CodeRenderFailed, "x").Detail(); d != "" {
		t.Errorf("expected empty detail, got %q", d)
	}
}

func TestWithField(t *testing.T) {
	err := ValidationField("primitives[0].radius", "Invalid input").
		WithField("reason", "must be > 0")

	if err.Code != CodeValidation {
		t.Errorf("expected code=%s, got %s", CodeValidation, err.Code)
	}
	if err.Fields["field"] != "primitives[0].radius" {
		t.Errorf("expected field, got %v", err.Fields["field"])
	}
	if err.Fields["reason"] != "must be > 0" {
		t.Errorf("expected reason, got %v", err.Fields["reason"])
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidation, 400},
		{CodeResourceExhaust, 429},
		{CodeInternal, 500},
		{CodeRenderFailed, 500},
		{CodePostProcessFailed, 500},
		{CodeIO, 500},
		{CodeTimeout, 504},
		{Code("SOMETHING_NEW"), 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "test").HTTPStatus(); got != tt.status {
				t.Errorf("expected status=%d, got %d", tt.status, got)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"coded", New(CodeIO, "io"), CodeIO},
		{"standard", fmt.Errorf("standard error"), CodeInternal},
		{"wrapped by fmt", fmt.Errorf("ctx: %w", New(CodeTimeout, "slow")), CodeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("expected code=%s, got %s", tt.want, got)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	if !IsTimeout(New(CodeTimeout, "Render timed out")) {
		t.Error("expected IsTimeout to return true")
	}
	if IsTimeout(New(CodeRenderFailed, "failed")) {
		t.Error("expected IsTimeout to return false")
	}
	if IsCode(nil, CodeInternal) {
		t.Error("a nil error has no code")
	}
}

func TestGetHTTPStatus(t *testing.T) {
	if got := GetHTTPStatus(New(CodeTimeout, "slow")); got != 504 {
		t.Errorf("expected status=504, got %d", got)
	}
	if got := GetHTTPStatus(fmt.Errorf("standard")); got != 500 {
		t.Errorf("expected status=500 for standard error, got %d", got)
	}
}

func TestGetFields(t *testing.T) {
	fields := GetFields(ValidationField("primitives", "Invalid input"))
	if fields["field"] != "primitives" {
		t.Errorf("expected field='primitives', got %v", fields["field"])
	}
	if GetFields(fmt.Errorf("standard")) != nil {
		t.Error("expected nil fields for standard error")
	}
}

func TestStackTrace(t *testing.T) {
	stack := New(CodeInternal, "test error").StackTrace()
	if !strings.Contains(stack, "errors_test.go:") {
		t.Errorf("expected stack trace to reference the caller, got: %s", stack)
	}
}

func TestErrorIs(t *testing.T) {
	err1 := New(CodeRenderFailed, "error 1")
	err2 := New(CodeRenderFailed, "error 2")
	err3 := New(CodePostProcessFailed, "error 3")

	if !errors.Is(err1, err2) {
		t.Error("expected errors with same code to match with Is")
	}
	if errors.Is(err1, err3) {
		t.Error("expected errors with different codes to not match")
	}
}

func TestAsAndIs(t *testing.T) {
	original := New(CodeIO, "disk full")
	wrapped := fmt.Errorf("wrapped: %w", original)

	var target *Error
	if !As(wrapped, &target) {
		t.Error("expected As to find Error in chain")
	}
	if target.Code != CodeIO {
		t.Errorf("expected code=%s, got %s", CodeIO, target.Code)
	}
	if !Is(wrapped, original) {
		t.Error("expected Is to match original error")
	}
}
