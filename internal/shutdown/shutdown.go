package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/glefebvre/episodebot/internal/logger"
)

// Hook is one named step of the shutdown sequence
type Hook struct {
	Name string
	Fn   func(context.Context) error
}

// Handler runs the daemon's shutdown sequence once, on signal or on demand.
// Hooks run one at a time in reverse registration order, so the API stops
// before the scheduler drains releases and the database closes last.
type Handler struct {
	mu             sync.Mutex
	hooks          []Hook
	timeout        time.Duration
	signalChan     chan os.Signal
	shutdownChan   chan struct{}
	isShuttingDown bool
	logger         *logger.Logger
}

// New creates a new shutdown handler; timeout bounds the whole sequence
func New(timeout time.Duration) *Handler {
	return &Handler{
		timeout:      timeout,
		signalChan:   make(chan os.Signal, 1),
		shutdownChan: make(chan struct{}),
		logger:       logger.AppLogger(),
	}
}

// Register adds a hook to run during shutdown
func (h *Handler) Register(name string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, Hook{Name: name, Fn: fn})
}

// Wait blocks until SIGINT, SIGTERM or TriggerShutdown, then runs the
// shutdown sequence
func (h *Handler) Wait() error {
	signal.Notify(h.signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(h.signalChan)

	sig := <-h.signalChan
	h.logger.WithFields(map[string]interface{}{
		"signal": sig.String(),
	}).Info("shutdown requested")
	return h.Shutdown()
}

// Shutdown runs every hook, even after one fails, and returns the joined
// errors. A second call is a no-op.
func (h *Handler) Shutdown() error {
	h.mu.Lock()
	if h.isShuttingDown {
		h.mu.Unlock()
		return nil
	}
	h.isShuttingDown = true
	hooks := append([]Hook(nil), h.hooks...)
	h.mu.Unlock()

	close(h.shutdownChan)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: skipped: %w", hook.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		if err := hook.Fn(ctx); err != nil {
			h.logger.WithFields(map[string]interface{}{
				"hook": hook.Name,
			}).Error("shutdown hook failed", err)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			continue
		}
		h.logger.WithFields(map[string]interface{}{
			"hook":        hook.Name,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("shutdown hook finished")
	}

	return errors.Join(errs...)
}

// IsShuttingDown returns true if shutdown has been initiated
func (h *Handler) IsShuttingDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.isShuttingDown
}

// ShutdownChan returns a channel that is closed when shutdown is initiated
func (h *Handler) ShutdownChan() <-chan struct{} {
	return h.shutdownChan
}

// TriggerShutdown makes Wait return as if SIGTERM was received
func (h *Handler) TriggerShutdown() {
	select {
	case h.signalChan <- syscall.SIGTERM:
	default:
	}
}
