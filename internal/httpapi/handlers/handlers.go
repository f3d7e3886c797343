// Package handlers implements the HTTP endpoints of the render API.
package handlers

import (
	"context"

	"rayforge/internal/job"
	"rayforge/internal/pkg/logger"
)

// Renderer runs one render job for a raw scene payload.
type Renderer interface {
	Run(ctx context.Context, payload []byte) (*job.Result, error)
}

// ScratchChecker reports whether the scratch directory is usable.
type ScratchChecker interface {
	CheckWritable() error
}

// Pinger is any remote dependency with a liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Jobs    Renderer
	Scratch ScratchChecker
	// Executables maps a stage name to its configured path.
	Executables map[string]string
	// Cache is nil when the result cache is off.
	Cache         Pinger
	MaxSceneBytes int64
	Log           *logger.Logger
}

type Handler struct {
	jobs          Renderer
	scratch       ScratchChecker
	executables   map[string]string
	cache         Pinger
	maxSceneBytes int64
	log           *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		jobs:          d.Jobs,
		scratch:       d.Scratch,
		executables:   d.Executables,
		cache:         d.Cache,
		maxSceneBytes: d.MaxSceneBytes,
		log:           log.WithComponent("http"),
	}
}
