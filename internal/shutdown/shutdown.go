// Package shutdown runs ordered cleanup when the service is asked to stop.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Func is a cleanup step. It should return once ctx is done.
type Func func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout         time.Duration
	Signals         []os.Signal
	OnShutdownStart func()
	OnShutdownDone  func(elapsed time.Duration, err error)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

type step struct {
	name string
	fn   Func
}

// Handler runs registered steps in reverse order of registration, each
// bounded by the shared timeout.
type Handler struct {
	mu    sync.Mutex
	steps []step

	stopping atomic.Bool
	done     chan struct{}
	err      error
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	sigChan chan os.Signal

	onStart func()
	onDone  func(elapsed time.Duration, err error)
}

// New creates a handler and starts listening for cfg.Signals.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = DefaultConfig().Signals
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		done:    make(chan struct{}),
		timeout: cfg.Timeout,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 1),
		onStart: cfg.OnShutdownStart,
		onDone:  cfg.OnShutdownDone,
	}

	signal.Notify(h.sigChan, cfg.Signals...)

	return h
}

// Register adds a named cleanup step.
func (h *Handler) Register(name string, fn Func) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.steps = append(h.steps, step{name: name, fn: fn})
}

// RegisterCloser adds a step that calls close and ignores ctx.
func (h *Handler) RegisterCloser(name string, close func() error) {
	h.Register(name, func(context.Context) error { return close() })
}

// Server is anything with an http.Server style Shutdown.
type Server interface {
	Shutdown(ctx context.Context) error
}

// RegisterServer adds a step that shuts srv down.
func (h *Handler) RegisterServer(name string, srv Server) {
	h.Register(name, srv.Shutdown)
}

// Context is cancelled as soon as shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown reports whether shutdown has begun.
func (h *Handler) IsShuttingDown() bool {
	return h.stopping.Load()
}

// Done is closed when every step has finished or timed out.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Err returns the combined step errors once Done is closed.
func (h *Handler) Err() error {
	<-h.done
	return h.err
}

// Wait blocks until a signal arrives or ctx is done, then shuts down.
func (h *Handler) Wait(ctx context.Context) error {
	select {
	case <-h.sigChan:
	case <-ctx.Done():
	case <-h.ctx.Done():
		return h.Err()
	}
	return h.Shutdown()
}

// Shutdown cancels Context and runs the steps, most recently registered
// first. Calls after the first wait for it and return the same result.
func (h *Handler) Shutdown() error {
	if !h.stopping.CompareAndSwap(false, true) {
		return h.Err()
	}

	start := time.Now()
	if h.onStart != nil {
		h.onStart()
	}
	h.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	steps := make([]step, len(h.steps))
	copy(steps, h.steps)
	h.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := run(ctx, steps[i]); err != nil {
			errs = append(errs, err)
		}
	}

	h.err = errors.Join(errs...)
	if h.onDone != nil {
		h.onDone(time.Since(start), h.err)
	}
	close(h.done)
	return h.err
}

func run(ctx context.Context, s step) error {
	done := make(chan error, 1)
	go func() {
		done <- s.fn(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &StepError{Step: s.name, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &StepError{Step: s.name, Err: ErrTimeout}
	}
}

// Trigger simulates a termination signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
	}
}

// Stop stops signal delivery to the handler.
func (h *Handler) Stop() {
	signal.Stop(h.sigChan)
}

// ErrTimeout is reported for a step that outlived the shutdown timeout.
var ErrTimeout = errors.New("shutdown step timed out")

// StepError names the cleanup step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return "shutdown " + e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}
