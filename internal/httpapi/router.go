// Package httpapi wires the HTTP routes and middleware of the render API.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"rayforge/internal/httpapi/handlers"
	"rayforge/internal/httpkit"
	"rayforge/internal/pkg/logger"
	"rayforge/internal/pkg/middleware"
)

type Deps struct {
	Handlers       handlers.Deps
	AllowedOrigins []string
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", middleware.RequestIDHeader},
		ExposedHeaders: []string{handlers.CacheHeader, middleware.RequestIDHeader},
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(d.Handlers)
	generate := middleware.WrapHandler(log, h.GenerateImage)

	// ---- GLUE ----
	r.Get("/", h.Home)
	r.Get("/api/data", h.Data)

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- RENDER ----
	r.Post("/generate-image", generate)
	r.Post("/api/generate-image", generate)

	return r
}
