// Package stage runs the external render and post-process programs.
//
// A stage communicates only through files and its exit status: stdout is
// discarded, stderr is forwarded to the log line by line, and the result is
// whatever the program wrote to the output path it was given.
package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"rayforge/internal/pkg/logger"
)

const (
	// NameRender labels the render stage in logs and errors.
	NameRender = "render"
	// NamePostProcess labels the denoise/upscale stage.
	NamePostProcess = "postprocess"

	defaultWaitDelay = 5 * time.Second
	defaultTailLines = 20
)

// Command describes one invocation of an external program.
type Command struct {
	// Name labels the stage in logs ("render", "postprocess").
	Name string
	Path string
	Args []string
	// Dir is the working directory; empty inherits the server's.
	Dir string
	// Env is appended to the server's environment.
	Env []string
}

// Status is the outcome of a program that was started.
type Status struct {
	// ExitCode is the program's exit code, or -1 when Abnormal.
	ExitCode int
	// Abnormal is set when the program was killed or otherwise ended
	// without an exit code.
	Abnormal bool
	// Stderr holds the last lines the program wrote to stderr.
	Stderr []string
	Duration time.Duration
}

// Success reports whether the program exited with status 0.
func (s Status) Success() bool {
	return !s.Abnormal && s.ExitCode == 0
}

func (s Status) String() string {
	if s.Abnormal {
		return "terminated abnormally"
	}
	return "exit status " + strconv.Itoa(s.ExitCode)
}

// Runner launches a Command and waits for it. It returns an error only when
// the program could not be run at all; a program that ran and failed is
// reported through Status.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Status, error)
}

// ExecRunner runs commands as child processes. When ctx ends the child is
// killed and reported as abnormal.
type ExecRunner struct {
	log       *logger.Logger
	waitDelay time.Duration
	tailLines int
}

// NewExecRunner returns a Runner backed by os/exec.
func NewExecRunner(log *logger.Logger) *ExecRunner {
	return &ExecRunner{
		log:       log.WithComponent("stage"),
		waitDelay: defaultWaitDelay,
		tailLines: defaultTailLines,
	}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Status, error) {
	log := r.log.FromContext(ctx).WithStage(cmd.Name)

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	sink := newLineSink(log, r.tailLines)
	c.Stderr = sink
	// Grandchildren holding stderr open must not stall Wait forever.
	c.WaitDelay = r.waitDelay

	log.Debug("starting stage", "path", cmd.Path, "args", cmd.Args, "dir", cmd.Dir)
	start := time.Now()
	if err := c.Start(); err != nil {
		return Status{}, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	waitErr := c.Wait()
	sink.Flush()

	st := Status{Stderr: sink.Tail(), Duration: time.Since(start)}
	switch {
	case waitErr == nil:
		st.ExitCode = 0
	case errors.Is(waitErr, exec.ErrWaitDelay) && c.ProcessState != nil:
		st.ExitCode = c.ProcessState.ExitCode()
	default:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return st, fmt.Errorf("failed to wait for %s: %w", cmd.Path, waitErr)
		}
		st.ExitCode = exitErr.ExitCode()
	}
	if st.ExitCode < 0 {
		st.ExitCode = -1
		st.Abnormal = true
	}

	log.Info("stage finished",
		"status", st.String(),
		"duration_ms", st.Duration.Milliseconds(),
	)
	return st, nil
}
