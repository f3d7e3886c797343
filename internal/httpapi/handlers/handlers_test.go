package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rayforge/internal/job"
	"rayforge/internal/pkg/errors"
	"rayforge/internal/pkg/logger"
	"rayforge/internal/pkg/middleware"
)

type stubRenderer struct {
	res     *job.Result
	err     error
	calls   int
	payload []byte
}

func (s *stubRenderer) Run(_ context.Context, payload []byte) (*job.Result, error) {
	s.calls++
	s.payload = payload
	return s.res, s.err
}

type stubScratch struct{ err error }

func (s stubScratch) CheckWritable() error { return s.err }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestHandler(d Deps) *Handler {
	d.Log = logger.New(logger.Config{Output: &bytes.Buffer{}})
	return New(d)
}

func serveGenerate(h *Handler, body string) *httptest.ResponseRecorder {
	handler := middleware.WrapHandler(h.log, h.GenerateImage)
	req := httptest.NewRequest(http.MethodPost, "/generate-image", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGenerateImageSuccess(t *testing.T) {
	tests := []struct {
		name   string
		cached bool
		header string
	}{
		{"rendered", false, "miss"},
		{"from cache", true, "hit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRenderer{res: &job.Result{Image: []byte("\x89PNGdata"), Cached: tt.cached}}
			h := newTestHandler(Deps{Jobs: r})

			rec := serveGenerate(h, `{"primitives":[]}`)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if rec.Header().Get("Content-Type") != "image/png" {
				t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
			}
			if rec.Header().Get(CacheHeader) != tt.header {
				t.Errorf("expected %s=%s, got %q", CacheHeader, tt.header, rec.Header().Get(CacheHeader))
			}
			if rec.Body.String() != "\x89PNGdata" {
				t.Errorf("unexpected body %q", rec.Body.String())
			}
			if string(r.payload) != `{"primitives":[]}` {
				t.Errorf("expected raw payload to reach the coordinator, got %s", r.payload)
			}
		})
	}
}

func TestGenerateImageErrors(t *testing.T) {
	cause := fmt.Errorf("no such file or directory")

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{
			name:   "invalid input",
			err:    errors.ValidationField("primitives", "Invalid input"),
			status: 400,
			body:   `{"error":"Invalid input"}`,
		},
		{
			name:   "render failure",
			err:    errors.Wrap(cause, errors.CodeRenderFailed, "job.render", job.MsgRenderFailed),
			status: 500,
			body:   `{"error":"Failed to generate image"}`,
		},
		{
			name:   "post-process failure",
			err:    errors.Wrap(cause, errors.CodePostProcessFailed, "job.postprocess", job.MsgPostProcessFailed),
			status: 500,
			body:   `{"error":"Failed to post-process image"}`,
		},
		{
			name:   "write failure",
			err:    errors.Wrap(cause, errors.CodeIO, "job.write", job.MsgWriteFailed),
			status: 500,
			body:   `{"err":"no such file or directory","error":"Failed to write scene"}`,
		},
		{
			name:   "read failure",
			err:    errors.Wrap(cause, errors.CodeIO, "job.read", job.MsgReadFailed),
			status: 500,
			body:   `{"err":"no such file or directory","error":"Failed to read image"}`,
		},
		{
			name:   "timeout",
			err:    errors.Wrap(context.DeadlineExceeded, errors.CodeTimeout, "job.render", job.MsgTimeout),
			status: 504,
			body:   `{"error":"Render timed out"}`,
		},
		{
			name:   "busy",
			err:    errors.New(errors.CodeResourceExhaust, job.MsgBusy),
			status: 429,
			body:   `{"error":"Too many concurrent renders"}`,
		},
		{
			name:   "internal",
			err:    errors.Wrap(cause, errors.CodeInternal, "job.allocate", job.MsgInternal),
			status: 500,
			body:   `{"err":"no such file or directory","message":"Internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(Deps{Jobs: &stubRenderer{err: tt.err}})

			rec := serveGenerate(h, `{}`)

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.body {
				t.Errorf("expected body %s, got %s", tt.body, got)
			}
			if rec.Header().Get(CacheHeader) != "" {
				t.Error("error responses must not carry the cache header")
			}
		})
	}
}

func TestGenerateImageBodyLimit(t *testing.T) {
	r := &stubRenderer{res: &job.Result{Image: []byte("png")}}
	h := newTestHandler(Deps{Jobs: r, MaxSceneBytes: 16})

	rec := serveGenerate(h, strings.Repeat(" ", 64)+"{}")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"Invalid input"}` {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if r.calls != 0 {
		t.Error("oversized body must not reach the coordinator")
	}
}

func TestGlueRoutes(t *testing.T) {
	h := newTestHandler(Deps{})

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{"home", h.Home, "Welcome Home!"},
		{"data", h.Data, "Hello from the API!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["message"] != tt.want {
				t.Errorf("expected %q, got %q", tt.want, body["message"])
			}
		})
	}
}

func TestHealth(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(t.TempDir(), "missing-upscaler")

	tests := []struct {
		name       string
		query      string
		deps       Deps
		wantStatus string
		wantChecks []string
	}{
		{
			name:       "shallow",
			deps:       Deps{},
			wantStatus: "ok",
		},
		{
			name:  "deep all ok",
			query: "?deep=true",
			deps: Deps{
				Scratch:     stubScratch{},
				Executables: map[string]string{"renderer": exe, "upscaler": exe},
			},
			wantStatus: "ok",
			wantChecks: []string{"scratch", "renderer", "upscaler"},
		},
		{
			name:  "deep missing executable",
			query: "?deep=true",
			deps: Deps{
				Scratch:     stubScratch{},
				Executables: map[string]string{"renderer": exe, "upscaler": missing},
			},
			wantStatus: "degraded",
			wantChecks: []string{"scratch", "renderer", "upscaler"},
		},
		{
			name:  "deep scratch not writable",
			query: "?deep=true",
			deps: Deps{
				Scratch: stubScratch{err: fmt.Errorf("read-only file system")},
			},
			wantStatus: "degraded",
			wantChecks: []string{"scratch"},
		},
		{
			name:  "deep redis down",
			query: "?deep=true",
			deps: Deps{
				Scratch: stubScratch{},
				Cache:   stubPinger{err: fmt.Errorf("connection refused")},
			},
			wantStatus: "degraded",
			wantChecks: []string{"scratch", "redis"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(tt.deps)
			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health"+tt.query, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var body struct {
				Status string                    `json:"status"`
				Checks map[string]map[string]any `json:"checks"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s (%v)", tt.wantStatus, body.Status, body.Checks)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Errorf("expected checks %v, got %v", tt.wantChecks, body.Checks)
			}
			for _, name := range tt.wantChecks {
				if _, ok := body.Checks[name]; !ok {
					t.Errorf("missing check %s", name)
				}
			}
		})
	}
}
