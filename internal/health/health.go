// Package health serves the liveness and readiness probes of the poise
// server.
//
//   - /healthz reports 200 whenever the process can serve HTTP.
//   - /readyz reports 200 only while the server accepts new recordings and
//     every registered [Checker] passes.
//
// Both return {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// ErrDraining is reported by /readyz once [Handler.SetDraining] was called.
var ErrDraining = errors.New("health: server is draining")

// Checker is a named readiness check. Check returns nil when the dependency is
// usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by detector backends that can report reachability.
type Pinger interface {
	Health(ctx context.Context) error
}

// DetectorChecker returns a [Checker] for a detector backend. Backends that do
// not implement [Pinger] always pass.
func DetectorChecker(name string, detector any) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if p, ok := detector.(Pinger); ok {
				return p.Health(ctx)
			}
			return nil
		},
	}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	timeout time.Duration

	mu       sync.RWMutex
	checkers []Checker
	draining atomic.Bool
}

// New creates a [Handler] with the given checkers and [DefaultCheckTimeout].
func New(checkers ...Checker) *Handler {
	return &Handler{
		timeout:  DefaultCheckTimeout,
		checkers: append([]Checker(nil), checkers...),
	}
}

// WithTimeout sets the per-check timeout and returns h.
func (h *Handler) WithTimeout(d time.Duration) *Handler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// Add registers more checkers. Safe to call while serving.
func (h *Handler) Add(checkers ...Checker) {
	h.mu.Lock()
	h.checkers = append(h.checkers, checkers...)
	h.mu.Unlock()
}

// SetDraining marks the server as shutting down so load balancers stop
// routing new recordings to it.
func (h *Handler) SetDraining(v bool) {
	h.draining.Store(v)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe. Checks run concurrently, each with its own
// timeout derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()

	errs := make([]error, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(checkers)+1)}
	status := http.StatusOK
	for i, c := range checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	if h.draining.Load() {
		res.Checks["server"] = "fail: " + ErrDraining.Error()
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
