package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Hook is a named component with optional start and stop callbacks.
type Hook struct {
	Name    string
	OnStart func(context.Context) error
	OnStop  func(context.Context) error
}

// Lifecycle manages the startup and shutdown of service components.
// Hooks start in registration order and stop in reverse.
type Lifecycle struct {
	mu      sync.Mutex
	hooks   []Hook
	started int // hooks[:started] have started
	running bool
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Append registers a hook.
func (l *Lifecycle) Append(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
}

// Closer is something that can be closed.
type Closer interface {
	Close() error
}

// RegisterCloser registers c to be closed on shutdown.
func (l *Lifecycle) RegisterCloser(name string, c Closer) {
	l.Append(Hook{Name: name, OnStop: func(context.Context) error { return c.Close() }})
}

// Start runs every start callback. If one fails, the hooks already started
// are stopped in reverse order.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("lifecycle already started")
	}

	for i, h := range l.hooks {
		if h.OnStart != nil {
			if err := h.OnStart(ctx); err != nil {
				l.started = i
				if stopErr := l.stop(ctx); stopErr != nil {
					slog.Warn("lifecycle rollback failed", "error", stopErr)
				}
				return fmt.Errorf("starting %s: %w", h.Name, err)
			}
		}
		l.started = i + 1
	}

	l.running = true
	return nil
}

// Stop runs the stop callbacks of started hooks in reverse order.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}
	l.running = false
	return l.stop(ctx)
}

// Release runs every stop callback in reverse order whether or not its hook
// started. Stop callbacks must tolerate a component that never started.
func (l *Lifecycle) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.running = false
	l.started = len(l.hooks)
	return l.stop(ctx)
}

func (l *Lifecycle) stop(ctx context.Context) error {
	var errs []error
	for i := l.started - 1; i >= 0; i-- {
		h := l.hooks[i]
		if h.OnStop == nil {
			continue
		}
		if err := h.OnStop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", h.Name, err))
		}
	}
	l.started = 0
	return errors.Join(errs...)
}

// IsStarted returns whether the lifecycle has been started.
func (l *Lifecycle) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}
