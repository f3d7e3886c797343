// Command render runs a single render job from a scene file without the
// HTTP server. It reads the same environment as the API. A failed job exits 1,
// or 124 when it ran out of time.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"rayforge/internal/config"
	"rayforge/internal/job"
	"rayforge/internal/pkg/errors"
	"rayforge/internal/pkg/logger"
	"rayforge/internal/scratch"
	"rayforge/internal/stage"
)

func main() {
	scenePath := flag.String("scene", "-", "scene description file, - for stdin")
	outPath := flag.String("out", "render.png", "where to write the PNG")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      "text",
		Output:      os.Stderr,
		ServiceName: "rayforge-render",
	})

	payload, err := readScene(*scenePath)
	if err != nil {
		log.LogFatal("failed to read scene", err, "path", *scenePath)
	}

	scratchMgr, err := scratch.New(cfg.ScratchDir, log)
	if err != nil {
		log.LogFatal("failed to prepare scratch directory", err, "dir", cfg.ScratchDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord := job.New(job.Deps{
		Config: job.Config{
			RendererPath: cfg.RendererPath,
			UpscalerPath: cfg.UpscalerPath,
			WorkDir:      cfg.StageWorkDir,
			Timeout:      cfg.JobTimeout,
		},
		Scratch: scratchMgr,
		Runner:  stage.NewExecRunner(log),
		Log:     log,
	})

	res, err := coord.Run(ctx, payload)
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", e.Message, e.Detail())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		if errors.IsTimeout(err) {
			os.Exit(124)
		}
		os.Exit(1)
	}

	if err := os.WriteFile(*outPath, res.Image, 0o644); err != nil {
		log.LogFatal("failed to write image", err, "path", *outPath)
	}
	log.Info("image written", "path", *outPath, "bytes", len(res.Image), "job_id", res.JobID)
}

func readScene(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
