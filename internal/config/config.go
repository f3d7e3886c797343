// Package config reads the service configuration from the environment,
// after loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort string

	ScratchDir   string
	RendererPath string
	UpscalerPath string
	StageWorkDir string

	JobTimeout        time.Duration
	// MaxConcurrentJobs caps running renders; zero leaves them unbounded.
	MaxConcurrentJobs int64
	MaxSceneBytes     int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration

	LogLevel  string
	LogFormat string
	LogSource bool
}

// CacheEnabled reports whether a Redis address was configured.
func (c Config) CacheEnabled() bool { return c.RedisAddr != "" }

// Load reads .env files (if any) and then the process environment. Variables
// already set in the process win over the files. Every invalid or missing
// value is reported in the returned error.
func Load(files ...string) (Config, error) {
	if err := loadDotEnv(files...); err != nil {
		return Config{}, err
	}

	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		HTTPPort:           FirstEnv("8080", "HTTP_PORT", "SERVER_PORT"),
		ScratchDir:         Env("SCRATCH_DIR", filepath.Join(os.TempDir(), "rayforge")),
		RendererPath:       Env("RENDERER_PATH", ""),
		UpscalerPath:       Env("UPSCALER_PATH", ""),
		StageWorkDir:       Env("STAGE_WORKDIR", ""),
		RedisAddr:          Env("REDIS_ADDR", ""),
		RedisPassword:      Env("REDIS_PASSWORD", ""),
		CORSAllowedOrigins: CSVEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		LogLevel:           Env("LOG_LEVEL", "info"),
		LogFormat:          Env("LOG_FORMAT", "json"),
		LogSource:          BoolEnv("LOG_SOURCE", false),
	}

	var err error
	cfg.JobTimeout, err = DurationEnv("JOB_TIMEOUT", 10*time.Minute)
	check(err)
	cfg.CacheTTL, err = DurationEnv("CACHE_TTL", time.Hour)
	check(err)
	cfg.ShutdownTimeout, err = DurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)
	check(err)
	cfg.MaxConcurrentJobs, err = IntEnv("MAX_CONCURRENT_JOBS", 0)
	check(err)
	cfg.MaxSceneBytes, err = IntEnv("MAX_SCENE_BYTES", 1<<20)
	check(err)
	db, err := IntEnv("REDIS_DB", 0)
	check(err)
	cfg.RedisDB = int(db)

	if cfg.RendererPath == "" {
		errs = append(errs, errors.New("RENDERER_PATH is required"))
	}
	if cfg.UpscalerPath == "" {
		errs = append(errs, errors.New("UPSCALER_PATH is required"))
	}
	if cfg.JobTimeout < 0 {
		errs = append(errs, fmt.Errorf("JOB_TIMEOUT must not be negative, got %s", cfg.JobTimeout))
	}
	if cfg.MaxConcurrentJobs < 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_JOBS must be >= 0, got %d", cfg.MaxConcurrentJobs))
	}
	if cfg.MaxSceneBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_SCENE_BYTES must be at least 1, got %d", cfg.MaxSceneBytes))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// loadDotEnv loads the given files, or ./.env when none are given. A missing
// file is not an error.
func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}
