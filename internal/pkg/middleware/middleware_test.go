package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rayforge/internal/pkg/errors"
	"rayforge/internal/pkg/logger"
)

func newTestLogger(buf *bytes.Buffer) *logger.Logger {
	return logger.New(logger.Config{
		Level:  "debug",
		Format: "json",
		Output: buf,
	})
}

func TestRequestID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := r.Context().Value(logger.RequestIDKey).(string)
		if reqID == "" {
			t.Error("expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates new request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		reqID := rec.Header().Get(RequestIDHeader)
		if len(reqID) != 36 {
			t.Errorf("expected a UUID request ID, got %q", reqID)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, "existing-id-123")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if reqID := rec.Header().Get(RequestIDHeader); reqID != "existing-id-123" {
			t.Errorf("expected preserved request ID 'existing-id-123', got %s", reqID)
		}
	})
}

func TestLogging(t *testing.T) {
	var logBuf bytes.Buffer
	log := newTestLogger(&logBuf)

	handler := RequestID(Logging(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	})))

	req := httptest.NewRequest("POST", "/generate-image", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	out := logBuf.String()
	for _, want := range []string{"request completed", "POST", "/generate-image", `"status":200`, "duration_ms", `"request_id":"req-42"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log, got: %s", want, out)
		}
	}
}

func TestLoggingLevels(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		expectedLevel string
	}{
		{"2xx logs info", 200, "INFO"},
		{"4xx logs warn", 400, "WARN"},
		{"429 logs warn", 429, "WARN"},
		{"5xx logs error", 500, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			handler := Logging(newTestLogger(&logBuf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

			if !strings.Contains(logBuf.String(), `"level":"`+tt.expectedLevel+`"`) {
				t.Errorf("expected log level %s, got: %s", tt.expectedLevel, logBuf.String())
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var logBuf bytes.Buffer
	handler := Recovery(newTestLogger(&logBuf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/generate-image", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["message"] != "Internal server error" {
		t.Errorf("unexpected body: %v", body)
	}

	out := logBuf.String()
	if !strings.Contains(out, "panic recovered") || !strings.Contains(out, "test panic") {
		t.Errorf("expected panic to be logged, got: %s", out)
	}
}

func TestResponseWriter(t *testing.T) {
	t.Run("captures status code", func(t *testing.T) {
		rw := wrapResponseWriter(httptest.NewRecorder())
		rw.WriteHeader(http.StatusCreated)
		if rw.status != http.StatusCreated {
			t.Errorf("expected status 201, got %d", rw.status)
		}
	})

	t.Run("captures size", func(t *testing.T) {
		rw := wrapResponseWriter(httptest.NewRecorder())
		rw.Write([]byte("hello world"))
		if rw.size != 11 {
			t.Errorf("expected size 11, got %d", rw.size)
		}
	})

	t.Run("defaults to 200", func(t *testing.T) {
		rw := wrapResponseWriter(httptest.NewRecorder())
		rw.Write([]byte("hello"))
		if rw.status != http.StatusOK {
			t.Errorf("expected default status 200, got %d", rw.status)
		}
	})

	t.Run("only writes header once", func(t *testing.T) {
		rw := wrapResponseWriter(httptest.NewRecorder())
		rw.WriteHeader(http.StatusCreated)
		rw.WriteHeader(http.StatusOK)
		if rw.status != http.StatusCreated {
			t.Errorf("expected status 201, got %d", rw.status)
		}
	})
}

func TestWrapHandler(t *testing.T) {
	var logBuf bytes.Buffer
	log := newTestLogger(&logBuf)

	t.Run("successful handler", func(t *testing.T) {
		handler := WrapHandler(log, func(w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusOK)
			return nil
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("handler with error", func(t *testing.T) {
		logBuf.Reset()
		handler := WrapHandler(log, func(w http.ResponseWriter, r *http.Request) error {
			return errors.ValidationField("camera.vfov", "Invalid input")
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/generate-image", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
		if rec.Body.String() != "{\"error\":\"Invalid input\"}\n" {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
		if !strings.Contains(logBuf.String(), "camera.vfov") {
			t.Errorf("expected error fields in log, got: %s", logBuf.String())
		}
	})

	t.Run("server error logs code and stack", func(t *testing.T) {
		logBuf.Reset()
		handler := WrapHandler(log, func(w http.ResponseWriter, r *http.Request) error {
			return errors.Wrap(fmt.Errorf("exit status 2"), errors.CodeRenderFailed, "job.render", "Failed to generate image")
		})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/generate-image", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}

		var entry map[string]any
		if err := json.Unmarshal(logBuf.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse log output: %v", err)
		}
		if entry["level"] != "ERROR" || entry["code"] != "RENDER_FAILED" || entry["op"] != "job.render" {
			t.Errorf("unexpected log entry: %v", entry)
		}
		if stack, _ := entry["stack"].(string); stack == "" {
			t.Error("expected stack in log entry")
		}
		if entry["status"] != float64(500) {
			t.Errorf("expected status=500 in log, got %v", entry["status"])
		}
	})
}

func TestErrorBody(t *testing.T) {
	cause := fmt.Errorf("open /tmp/x: permission denied")

	tests := []struct {
		name   string
		err    error
		status int
		want   map[string]string
	}{
		{
			name:   "validation",
			err:    errors.ValidationField("primitives", "Invalid input"),
			status: 400,
			want:   map[string]string{"error": "Invalid input"},
		},
		{
			name:   "render failure",
			err:    errors.Wrap(cause, errors.CodeRenderFailed, "job.render", "Failed to generate image"),
			status: 500,
			want:   map[string]string{"error": "Failed to generate image"},
		},
		{
			name:   "post-process failure",
			err:    errors.New(errors.CodePostProcessFailed, "Failed to post-process image"),
			status: 500,
			want:   map[string]string{"error": "Failed to post-process image"},
		},
		{
			name:   "read failure carries detail",
			err:    errors.Wrap(cause, errors.CodeIO, "job.read", "Failed to read image"),
			status: 500,
			want:   map[string]string{"error": "Failed to read image", "err": cause.Error()},
		},
		{
			name:   "timeout",
			err:    errors.New(errors.CodeTimeout, "Render timed out"),
			status: 504,
			want:   map[string]string{"error": "Render timed out"},
		},
		{
			name:   "busy",
			err:    errors.New(errors.CodeResourceExhaust, "Too many concurrent renders"),
			status: 429,
			want:   map[string]string{"error": "Too many concurrent renders"},
		},
		{
			name:   "internal",
			err:    errors.Wrap(cause, errors.CodeInternal, "job.allocate", "Internal server error"),
			status: 500,
			want:   map[string]string{"message": "Internal server error", "err": cause.Error()},
		},
		{
			name:   "plain error",
			err:    cause,
			status: 500,
			want:   map[string]string{"message": "Internal server error", "err": cause.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.GetHTTPStatus(tt.err); got != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, got)
			}
			got := ErrorBody(tt.err)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s: expected %q, got %q", k, v, got[k])
				}
			}
		})
	}
}
