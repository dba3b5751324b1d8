// Package health serves the liveness and readiness probes of a simulation run.
//
//   - /healthz reports that the process is serving and, when an [InfoFunc] is
//     configured, where the run currently is.
//   - /readyz returns 200 only when every registered [Checker] passes.
//
// Bodies are JSON objects with a "status" field ("ok" or "fail").
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is implemented by snapshot stores that can probe their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a [Pinger] into a [Checker].
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Info is the run progress reported by /healthz.
type Info struct {
	RunID string `json:"run_id,omitempty"`
	Step  int    `json:"step"`
	Steps int    `json:"steps"`
	Alive int    `json:"alive"`
	Done  bool   `json:"done"`
}

// InfoFunc returns the current run progress. It is called from HTTP handler
// goroutines and must not touch the population directly.
type InfoFunc func() Info

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Run    *Info             `json:"run,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	info     InfoFunc
}

// Option configures a [Handler].
type Option func(*Handler)

// WithInfo attaches run progress to /healthz responses.
func WithInfo(f InfoFunc) Option {
	return func(h *Handler) { h.info = f }
}

// WithCheckers appends readiness checks.
func WithCheckers(checkers ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, checkers...) }
}

// New creates a [Handler].
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthz always returns 200 while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.info != nil {
		info := h.info()
		res.Run = &info
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz runs all checkers concurrently, each with its own [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
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
