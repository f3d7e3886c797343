// Package shutdown provides graceful shutdown of the render service.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"rayforge/internal/pkg/logger"
)

// forceGrace bounds the handlers that still run after the drain budget is
// spent. It outlasts the stage kill delay so canceled jobs can reap their
// subprocesses and remove their scratch files.
const forceGrace = 10 * time.Second

// Manager handles graceful shutdown of services.
type Manager struct {
	log      *logger.Logger
	timeout  time.Duration
	grace    time.Duration
	handlers []Handler
	mu       sync.Mutex
	once     sync.Once

	base       context.Context
	cancelBase context.CancelFunc
}

// Handler is a function that performs cleanup during shutdown.
type Handler struct {
	Name    string
	Cleanup func(ctx context.Context) error
}

// NewManager creates a new shutdown manager.
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		log:        log.WithComponent("shutdown"),
		timeout:    timeout,
		grace:      forceGrace,
		handlers:   make([]Handler, 0),
		base:       base,
		cancelBase: cancel,
	}
}

// Register adds a cleanup handler.
func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, Handler{Name: name, Cleanup: cleanup})
	m.log.Debug("registered shutdown handler", "name", name)
}

// RegisterSimple adds a simple cleanup handler without context.
func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(ctx context.Context) error {
		cleanup()
		return nil
	})
}

// Wait blocks until shutdown signal is received, then runs cleanup.
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	m.log.Info("shutdown signal received", "signal", sig.String())

	m.Shutdown()
}

// Shutdown runs every cleanup handler in reverse registration order. The HTTP
// server is registered last so it drains before the resources it uses close.
// Handlers reached after the drain budget expires still run, with a short
// grace context. Calling Shutdown more than once is a no-op.
func (m *Manager) Shutdown() {
	m.once.Do(m.shutdown)
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	drain, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Info("starting graceful shutdown", "handlers", len(handlers), "timeout", m.timeout.String())

	finished := make(chan struct{})
	go func() {
		defer close(finished)

		var force context.Context
		for i := len(handlers) - 1; i >= 0; i-- {
			ctx := drain
			if drain.Err() != nil {
				if force == nil {
					m.log.Warn("drain budget exceeded, canceling in-flight work", "grace", m.grace.String())
					m.cancelBase()
					var cancelForce context.CancelFunc
					force, cancelForce = context.WithTimeout(context.Background(), m.grace)
					defer cancelForce()
				}
				ctx = force
			}
			m.run(ctx, handlers[i])
		}
	}()

	select {
	case <-finished:
		m.log.Info("graceful shutdown completed")
	case <-time.After(m.timeout + m.grace):
		m.log.Warn("shutdown handlers did not return, forcing exit")
	}

	m.cancelBase()
}

func (m *Manager) run(ctx context.Context, h Handler) {
	start := time.Now()
	if err := h.Cleanup(ctx); err != nil {
		m.log.WithError(err).Error("shutdown handler failed",
			"name", h.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	m.log.Debug("shutdown handler completed",
		"name", h.Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Context returns the base context for request handling. It stays live
// while handlers drain and is canceled once the drain budget is spent, so
// render jobs still running at that point have their subprocesses killed
// and clean up before the remaining handlers run.
func (m *Manager) Context() context.Context {
	return m.base
}
