package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Hook is a lifecycle callback. Either function may be nil.
type Hook struct {
	Name  string
	Start func(context.Context) error
	Stop  func(context.Context) error
}

// Lifecycle starts hooks in registration order and stops them in reverse.
type Lifecycle struct {
	mu      sync.Mutex
	hooks   []Hook
	started int // number of hooks currently started
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

// Component is something that can be started and stopped.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RegisterComponent registers a component with the lifecycle.
func (l *Lifecycle) RegisterComponent(name string, c Component) {
	l.Append(Hook{Name: name, Start: c.Start, Stop: c.Stop})
}

// Closer is something that can be closed.
type Closer interface {
	Close() error
}

// RegisterCloser registers a closer to be closed on shutdown.
func (l *Lifecycle) RegisterCloser(name string, c Closer) {
	l.Append(Hook{Name: name, Stop: func(context.Context) error { return c.Close() }})
}

// Start runs every start hook. When one fails, hooks already started are
// stopped in reverse order and the error is returned.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return errors.New("lifecycle already started")
	}

	for i, h := range l.hooks {
		if h.Start != nil {
			if err := h.Start(ctx); err != nil {
				if stopErr := l.stopFrom(ctx, i-1); stopErr != nil {
					slog.Warn("lifecycle: rollback incomplete", "error", stopErr)
				}
				return fmt.Errorf("starting %s: %w", h.Name, err)
			}
		}
		l.started = i + 1
	}

	l.running = true
	return nil
}

// Stop runs every stop hook of a started lifecycle in reverse order.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return nil
	}
	l.running = false
	if err := l.stopFrom(ctx, l.started-1); err != nil {
		return fmt.Errorf("errors during shutdown: %w", err)
	}
	return nil
}

// stopFrom stops hooks last..0 and joins their errors.
func (l *Lifecycle) stopFrom(ctx context.Context, last int) error {
	var errs []error
	for j := last; j >= 0; j-- {
		h := l.hooks[j]
		if h.Stop == nil {
			continue
		}
		if err := h.Stop(ctx); err != nil {
			slog.Warn("lifecycle: stop hook failed", "hook", h.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
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
