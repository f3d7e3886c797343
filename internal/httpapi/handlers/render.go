package handlers

import (
	"io"
	"net/http"

	"rayforge/internal/httpkit"
	"rayforge/internal/pkg/errors"
	"rayforge/internal/scene"
)

// CacheHeader tells the client whether the image came from the result cache.
const CacheHeader = "X-Render-Cache"

// GenerateImage renders the scene in the request body and answers with the
// PNG bytes, or with exactly one JSON error.
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) error {
	body := r.Body
	if h.maxSceneBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxSceneBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.ValidationField("body", scene.InvalidInputMessage).
				WithField("reason", "body exceeds limit").
				WithField("limit", tooLarge.Limit)
		}
		return errors.Wrap(err, errors.CodeValidation, "http.read_body", scene.InvalidInputMessage)
	}

	res, err := h.jobs.Run(r.Context(), payload)
	if err != nil {
		return err
	}

	cache := "miss"
	if res.Cached {
		cache = "hit"
	}
	w.Header().Set(CacheHeader, cache)
	if err := httpkit.WritePNG(w, res.Image); err != nil {
		// Headers are already sent; the client went away.
		h.log.FromContext(r.Context()).Warn("failed to write image", "error", err.Error())
	}
	return nil
}

// Home answers the root route.
func (h *Handler) Home(w http.ResponseWriter, _ *http.Request) {
	httpkit.Message(w, "Welcome Home!")
}

func (h *Handler) Data(w http.ResponseWriter, _ *http.Request) {
	httpkit.Message(w, "Hello from the API!")
}
