package handlers

import (
	"context"
	"net/http"
	"os/exec"
	"sort"
	"time"

	"rayforge/internal/httpkit"
)

// Health performs a health check of the service.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": "rayforge-api",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for name, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "check", name, "error", check["error"])
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

// deepHealthCheck checks scratch space, both executables, and Redis when
// the cache is configured.
func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{
		"scratch": h.checkScratch(),
	}

	names := make([]string, 0, len(h.executables))
	for name := range h.executables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checks[name] = checkExecutable(h.executables[name])
	}

	if h.cache != nil {
		checks["redis"] = h.checkRedis(ctx)
	}
	return checks
}

func (h *Handler) checkScratch() map[string]any {
	result := map[string]any{"status": "ok"}
	if h.scratch == nil {
		result["status"] = "error"
		result["error"] = "scratch manager not configured"
		return result
	}
	if err := h.scratch.CheckWritable(); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	return result
}

func checkExecutable(path string) map[string]any {
	result := map[string]any{"status": "ok"}
	resolved, err := exec.LookPath(path)
	if err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
		return result
	}
	result["path"] = resolved
	return result
}

func (h *Handler) checkRedis(ctx context.Context) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.cache.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
