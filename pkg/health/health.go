// Package health tracks service readiness and serves the probe endpoints.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// DefaultProbeTimeout bounds each dependency probe.
const DefaultProbeTimeout = 2 * time.Second

// PingFunc checks one dependency, e.g. (*sql.DB).PingContext.
type PingFunc func(ctx context.Context) error

// Checker tracks readiness and the dependencies readiness requires.
// It is safe for concurrent use.
type Checker struct {
	state   atomic.Int32
	timeout time.Duration

	mu     sync.RWMutex
	probes map[string]PingFunc
}

// NewChecker creates a Checker in the starting state.
func NewChecker() *Checker {
	return &Checker{
		timeout: DefaultProbeTimeout,
		probes:  make(map[string]PingFunc),
	}
}

// AddProbe registers a dependency checked by the readiness endpoint.
func (c *Checker) AddProbe(name string, ping PingFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = ping
}

// SetReady transitions to the ready state.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining transitions to the draining state.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady reports whether the state is ready. Probes are not consulted.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the current state as a string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// Check runs every probe concurrently and returns the failures by name.
func (c *Checker) Check(ctx context.Context) map[string]string {
	c.mu.RLock()
	probes := make(map[string]PingFunc, len(c.probes))
	for k, v := range c.probes {
		probes[k] = v
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = make(map[string]string)
	)
	for name, ping := range probes {
		wg.Go(func() {
			if err := ping(ctx); err != nil {
				mu.Lock()
				failures[name] = err.Error()
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	return failures
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler always responds 200 (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler responds 200 when ready and every probe passes, and 503
// otherwise (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: c.State()})
			return
		}
		if failures := c.Check(r.Context()); len(failures) > 0 {
			slog.Warn("health: readiness probe failed", "failures", failures)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Checks: failures})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: c.State()})
	}
}

func writeJSON(w http.ResponseWriter, code int, v healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
