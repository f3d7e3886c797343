// Package scratch hands out per-job file paths under a scratch directory and
// removes them when the job is over.
package scratch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"rayforge/internal/pkg/logger"
)

const (
	inputPrefix  = "scene-"
	outputPrefix = "render-"
)

// Pair is the identity of a job: the scene file the renderer reads and the
// image file the stages write.
type Pair struct {
	Input  string
	Output string
}

// Paths returns both paths, input first.
func (p Pair) Paths() []string {
	return []string{p.Input, p.Output}
}

// ID returns a short identifier for logs, derived from the output path.
func (p Pair) ID() string {
	base := filepath.Base(p.Output)
	return strings.TrimSuffix(strings.TrimPrefix(base, outputPrefix), filepath.Ext(base))
}

// Manager allocates and releases scratch files in a single directory.
type Manager struct {
	dir string
	log *logger.Logger
}

// New creates dir if needed and returns a Manager rooted there.
func New(dir string, log *logger.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("scratch dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir %s: %w", abs, err)
	}
	return &Manager{dir: abs, log: log.WithComponent("scratch")}, nil
}

// Dir returns the absolute scratch directory.
func (m *Manager) Dir() string { return m.dir }

// Allocate returns a fresh pair of paths. Each path carries its own random
// 122-bit UUID, so concurrent jobs never share a file. Nothing is created on
// disk.
func (m *Manager) Allocate() (Pair, error) {
	in, err := uuid.NewRandom()
	if err != nil {
		return Pair{}, fmt.Errorf("failed to generate input id: %w", err)
	}
	out, err := uuid.NewRandom()
	if err != nil {
		return Pair{}, fmt.Errorf("failed to generate output id: %w", err)
	}
	return Pair{
		Input:  filepath.Join(m.dir, inputPrefix+in.String()+".json"),
		Output: filepath.Join(m.dir, outputPrefix+out.String()+".png"),
	}, nil
}

// Write creates path with data. It refuses to overwrite an existing file.
func (m *Manager) Write(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Read returns the full contents of path.
func (m *Manager) Read(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return b, nil
}

// Cleanup removes every path, attempting all of them. Failures, including
// paths that are already gone, are logged and never returned. It reports how
// many files it actually removed.
func (m *Manager) Cleanup(ctx context.Context, paths ...string) int {
	log := m.log.FromContext(ctx)
	removed := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
		case os.IsNotExist(err):
			log.Debug("scratch file already removed", "path", p)
		default:
			log.WithError(err).Warn("failed to remove scratch file", "path", p)
		}
	}
	return removed
}

// Sweep removes job files older than maxAge. It is run at startup to reclaim
// files left behind by a process that died mid-job.
func (m *Manager) Sweep(ctx context.Context, maxAge time.Duration) int {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.log.WithError(err).Warn("scratch sweep failed", "dir", m.dir)
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, inputPrefix) || strings.HasPrefix(name, outputPrefix)) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		stale = append(stale, filepath.Join(m.dir, name))
	}

	n := m.Cleanup(ctx, stale...)
	if n > 0 {
		m.log.Info("swept stale scratch files", "removed", n)
	}
	return n
}

// CheckWritable verifies the directory accepts new files.
func (m *Manager) CheckWritable() error {
	f, err := os.CreateTemp(m.dir, ".writable-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
