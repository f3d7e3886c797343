package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"rayforge/internal/cache"
	"rayforge/internal/config"
	"rayforge/internal/httpapi"
	"rayforge/internal/httpapi/handlers"
	"rayforge/internal/job"
	"rayforge/internal/pkg/logger"
	"rayforge/internal/pkg/shutdown"
	"rayforge/internal/scratch"
	"rayforge/internal/stage"
)

// staleScratchAge is how old a leftover scratch file must be before the
// startup sweep removes it.
const staleScratchAge = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("failed to load configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "rayforge-api",
		AddSource:   cfg.LogSource,
	})

	log.Info("starting rayforge API",
		"version", "0.1.0",
		"renderer", cfg.RendererPath,
		"upscaler", cfg.UpscalerPath,
		"max_concurrent_jobs", cfg.MaxConcurrentJobs,
		"job_timeout", cfg.JobTimeout.String(),
	)

	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	// Scratch space
	scratchMgr, err := scratch.New(cfg.ScratchDir, log)
	if err != nil {
		log.LogFatal("failed to prepare scratch directory", err, "dir", cfg.ScratchDir)
	}
	if n := scratchMgr.Sweep(context.Background(), staleScratchAge); n > 0 {
		log.Info("removed stale scratch files", "count", n)
	}
	log.Info("scratch directory ready", "dir", scratchMgr.Dir())

	// Result cache
	var imageCache *cache.RedisCache
	if cfg.CacheEnabled() {
		log.Info("connecting to Redis")
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := cache.Connect(pingCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			log.LogFatal("failed to connect to Redis", err, "addr", cfg.RedisAddr)
		}
		imageCache = cache.NewRedisCache(rdb, cache.DefaultPrefix, cfg.CacheTTL)
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return imageCache.Close()
		})
		log.Info("Redis connected", "ttl", cfg.CacheTTL.String())
	}

	jobDeps := job.Deps{
		Config: job.Config{
			RendererPath:  cfg.RendererPath,
			UpscalerPath:  cfg.UpscalerPath,
			WorkDir:       cfg.StageWorkDir,
			Timeout:       cfg.JobTimeout,
			MaxConcurrent: cfg.MaxConcurrentJobs,
		},
		Scratch: scratchMgr,
		Runner:  stage.NewExecRunner(log),
		Log:     log,
	}
	handlerDeps := handlers.Deps{
		Scratch: scratchMgr,
		Executables: map[string]string{
			"renderer": cfg.RendererPath,
			"upscaler": cfg.UpscalerPath,
		},
		MaxSceneBytes: cfg.MaxSceneBytes,
	}
	// Assigned only when set so the interfaces stay nil with the cache off.
	if imageCache != nil {
		jobDeps.Cache = imageCache
		handlerDeps.Cache = imageCache
	}
	coord := job.New(jobDeps)
	handlerDeps.Jobs = coord

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers:       handlerDeps,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Log:            log,
	})

	// Requests inherit the shutdown context so running jobs are canceled
	// and their subprocesses killed once the drain budget runs out.
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout(cfg.JobTimeout),
		IdleTimeout:       120 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return shutdownMgr.Context()
		},
	}

	shutdownMgr.RegisterSimple("scratch", func() {
		if n := scratchMgr.Sweep(context.Background(), 0); n > 0 {
			log.Info("removed leftover scratch files", "count", n)
		}
	})
	shutdownMgr.Register("jobs", func(ctx context.Context) error {
		return coord.Wait(ctx)
	})
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.HTTPPort,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
	os.Exit(0)
}

// writeTimeout leaves room past the job deadline to send the image. Jobs
// without a deadline get no write deadline either.
func writeTimeout(jobTimeout time.Duration) time.Duration {
	if jobTimeout <= 0 {
		return 0
	}
	return jobTimeout + time.Minute
}
