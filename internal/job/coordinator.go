// Package job drives one render request from validation through the external
// stages to the final image, and guarantees its scratch files are removed.
package job

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"rayforge/internal/pkg/errors"
	"rayforge/internal/pkg/logger"
	"rayforge/internal/scene"
	"rayforge/internal/scratch"
	"rayforge/internal/stage"
)

// Client-facing messages, one per error kind.
const (
	MsgRenderFailed      = "Failed to generate image"
	MsgPostProcessFailed = "Failed to post-process image"
	MsgWriteFailed       = "Failed to write scene"
	MsgReadFailed        = "Failed to read image"
	MsgTimeout           = "Render timed out"
	MsgBusy              = "Too many concurrent renders"
	MsgInternal          = "Internal server error"
)

// Scratch allocates and releases the per-job files.
type Scratch interface {
	Allocate() (scratch.Pair, error)
	Write(path string, data []byte) error
	Read(path string) ([]byte, error)
	Cleanup(ctx context.Context, paths ...string) int
}

// ImageCache stores finished images by scene fingerprint.
type ImageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, image []byte) error
}

// Config holds the coordinator's tunables.
type Config struct {
	RendererPath string
	UpscalerPath string
	// WorkDir is the working directory of both stages.
	WorkDir string
	// Timeout bounds a whole job; zero means no deadline.
	Timeout time.Duration
	// MaxConcurrent bounds jobs running at once; zero or less means unbounded.
	MaxConcurrent int64
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Config  Config
	Scratch Scratch
	Runner  stage.Runner
	// Cache is optional.
	Cache ImageCache
	Log   *logger.Logger
	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)
}

// Result is a finished job.
type Result struct {
	Image  []byte
	Cached bool
	// JobID is empty for cache hits, which never allocate scratch files.
	JobID string
}

// Coordinator runs render jobs. It is safe for concurrent use; each call to
// Run is an independent job.
type Coordinator struct {
	cfg     Config
	scratch Scratch
	runner  stage.Runner
	cache   ImageCache
	log     *logger.Logger
	observe func(from, to State)
	slots   *semaphore.Weighted

	inflight sync.WaitGroup
}

// New builds a Coordinator.
func New(d Deps) *Coordinator {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	c := &Coordinator{
		cfg:     d.Config,
		scratch: d.Scratch,
		runner:  d.Runner,
		cache:   d.Cache,
		log:     log.WithComponent("coordinator"),
		observe: d.OnTransition,
	}
	if d.Config.MaxConcurrent > 0 {
		c.slots = semaphore.NewWeighted(d.Config.MaxConcurrent)
	}
	return c
}

// tracker holds the current state of one job.
type tracker struct {
	state   State
	log     *logger.Logger
	observe func(from, to State)
}

func (t *tracker) enter(next State) {
	if next == t.state {
		return
	}
	t.log.Debug("job state", "from", t.state.String(), "to", next.String())
	if t.observe != nil {
		t.observe(t.state, next)
	}
	t.state = next
}

func (t *tracker) advance(o Outcome) {
	t.enter(Transition(t.state, o))
}

// Run executes one job for payload. It returns the final image or exactly
// one coded error; never both.
func (c *Coordinator) Run(ctx context.Context, payload []byte) (*Result, error) {
	c.inflight.Add(1)
	defer c.inflight.Done()

	start := time.Now()
	t := &tracker{state: StateReceived, log: c.log.FromContext(ctx), observe: c.observe}

	desc, err := scene.Validate(payload)
	t.advance(Outcome{Err: err})
	if err != nil {
		t.log.Warn("scene rejected", "field", errors.GetFields(err)["field"], "reason", errors.GetFields(err)["reason"])
		return nil, err
	}

	key := c.cacheKey(ctx, desc)
	if image, ok := c.cacheGet(ctx, key); ok {
		t.advance(Outcome{Cached: true})
		t.advance(Outcome{})
		t.log.Info("job served from cache", "duration_ms", time.Since(start).Milliseconds())
		return &Result{Image: image, Cached: true}, nil
	}

	if c.slots != nil {
		if !c.slots.TryAcquire(1) {
			err := errors.New(errors.CodeResourceExhaust, MsgBusy).
				WithField("max_concurrent", c.cfg.MaxConcurrent)
			t.advance(Outcome{Err: err})
			return nil, err
		}
		defer c.slots.Release(1)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	res, err := c.execute(ctx, t, desc)
	if err != nil {
		t.log.Error("job failed",
			"code", string(errors.GetCode(err)),
			"error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	if key != "" {
		if err := c.cache.Set(ctx, key, res.Image); err != nil {
			t.log.WithError(err).Warn("failed to cache image")
		}
	}
	t.log.Info("job completed",
		"bytes", len(res.Image),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Wait blocks until every Run in progress has returned, scratch cleanup
// included, or until ctx ends. Callers stop starting new jobs first.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute walks the job from Validated to Responding, then reads the image.
// Scratch files are removed by a single deferred call whichever way it ends.
func (c *Coordinator) execute(ctx context.Context, t *tracker, desc *scene.Description) (*Result, error) {
	var pair scratch.Pair
	defer func() {
		c.scratch.Cleanup(context.WithoutCancel(ctx), pair.Paths()...)
		t.enter(StateCleaned)
	}()

	var failure error
	for t.state != StateResponding && !t.state.Terminal() {
		var o Outcome
		switch t.state {
		case StateValidated:
			pair, o.Err = c.prepare(desc)
			if pair.Output != "" {
				ctx = logger.ContextWithJobID(ctx, pair.ID())
				t.log = t.log.WithJobID(pair.ID())
			}
		case StateRendering:
			o.Err = c.render(ctx, pair)
		case StateRenderSucceeded:
			o.PostProcess = desc.Camera.NeedsPostProcess()
		case StatePostProcessing:
			o.Err = c.postProcess(ctx, pair, desc.Camera)
		}
		if o.Err != nil && failure == nil {
			failure = o.Err
		}
		t.advance(o)
	}
	if failure != nil {
		return nil, failure
	}

	image, err := c.scratch.Read(pair.Output)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIO, "job.read", MsgReadFailed)
	}
	if len(image) == 0 {
		return nil, errors.Wrap(fmt.Errorf("%s is empty", pair.Output), errors.CodeIO, "job.read", MsgReadFailed)
	}
	return &Result{Image: image, JobID: pair.ID()}, nil
}

// prepare allocates the job's paths and writes the scene to the input path.
// The pair is returned even on write failure so it still gets cleaned up.
func (c *Coordinator) prepare(desc *scene.Description) (scratch.Pair, error) {
	pair, err := c.scratch.Allocate()
	if err != nil {
		return scratch.Pair{}, errors.Wrap(err, errors.CodeInternal, "job.allocate", MsgInternal)
	}
	data, err := desc.Encode()
	if err != nil {
		return pair, errors.Wrap(err, errors.CodeInternal, "job.encode", MsgInternal)
	}
	if err := c.scratch.Write(pair.Input, data); err != nil {
		return pair, errors.Wrap(err, errors.CodeIO, "job.write", MsgWriteFailed)
	}
	return pair, nil
}

func (c *Coordinator) render(ctx context.Context, pair scratch.Pair) error {
	st, err := c.runner.Run(ctx, stage.Command{
		Name: stage.NameRender,
		Path: c.cfg.RendererPath,
		Args: []string{pair.Output, pair.Input},
		Dir:  c.cfg.WorkDir,
	})
	return c.stageError(ctx, stage.NameRender, st, err, errors.CodeRenderFailed, MsgRenderFailed)
}

// postProcess overwrites the rendered image in place.
func (c *Coordinator) postProcess(ctx context.Context, pair scratch.Pair, cam scene.Camera) error {
	st, err := c.runner.Run(ctx, stage.Command{
		Name: stage.NamePostProcess,
		Path: c.cfg.UpscalerPath,
		Args: []string{
			pair.Output,
			pair.Output,
			"--denoise=" + strconv.Itoa(cam.Denoise),
			"--scale=" + strconv.Itoa(cam.ScaleFactor()),
		},
		Dir: c.cfg.WorkDir,
	})
	return c.stageError(ctx, stage.NamePostProcess, st, err, errors.CodePostProcessFailed, MsgPostProcessFailed)
}

// stageError classifies how a stage ended. A stage that exited zero has
// succeeded even if the deadline passed as it finished. Otherwise an expired
// deadline wins over the exit status, since the kill caused that status.
func (c *Coordinator) stageError(ctx context.Context, name string, st stage.Status, runErr error, code errors.Code, msg string) error {
	if runErr == nil && st.Success() {
		return nil
	}

	op := "job." + name
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errors.Wrap(ctx.Err(), errors.CodeTimeout, op, MsgTimeout).
			WithField("stage", name).
			WithField("timeout", c.cfg.Timeout.String())
	case context.Canceled:
		return errors.Wrap(ctx.Err(), errors.CodeInternal, op, MsgInternal).
			WithField("stage", name)
	}

	if runErr != nil {
		return errors.Wrap(runErr, code, op, msg).WithField("stage", name)
	}
	return errors.Wrap(fmt.Errorf("%s stage %s", name, st), code, op, msg).
		WithField("stage", name).
		WithField("exit_code", st.ExitCode).
		WithField("abnormal", st.Abnormal).
		WithField("stderr", st.Stderr)
}

func (c *Coordinator) cacheKey(ctx context.Context, desc *scene.Description) string {
	if c.cache == nil {
		return ""
	}
	key, err := desc.Fingerprint()
	if err != nil {
		c.log.FromContext(ctx).WithError(err).Warn("failed to fingerprint scene")
		return ""
	}
	return key
}

func (c *Coordinator) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}
	image, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.FromContext(ctx).WithError(err).Warn("cache lookup failed")
		return nil, false
	}
	return image, ok && len(image) > 0
}
