// Package app wires the fpsim subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the snapshot store and
// prepares (or resumes) the simulation, Run drives the simulation next to the
// observability HTTP server and the config watcher, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics,
// WithListener). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/avictorious/fpsim/internal/config"
	"github.com/avictorious/fpsim/internal/health"
	"github.com/avictorious/fpsim/internal/observe"
	"github.com/avictorious/fpsim/internal/runlog"
	"github.com/avictorious/fpsim/internal/sim"
	"github.com/avictorious/fpsim/internal/snapshot"
)

const (
	readHeaderTimeout   = 5 * time.Second
	serverShutdownGrace = 5 * time.Second
)

// App owns all subsystem lifetimes for one simulation run.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics
	level   *slog.LevelVar

	store      snapshot.Store
	sim        *sim.Sim
	hooks      []sim.Hook
	runID      string
	resume     bool
	resumeID   string
	configPath string
	watcher    *config.Watcher
	journal    *runlog.Journal

	listener net.Listener
	server   *http.Server
	health   *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a snapshot store instead of opening one from config. The
// caller keeps ownership; Shutdown does not close it.
func WithStore(s snapshot.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets configuration reloads change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithHooks replaces [sim.DefaultHooks].
func WithHooks(hooks ...sim.Hook) Option {
	return func(a *App) { a.hooks = hooks }
}

// WithRunID names a new run. Ignored when resuming.
func WithRunID(id string) Option {
	return func(a *App) { a.runID = id }
}

// WithResume continues the latest snapshot of runID instead of starting a new
// run. An empty runID picks the newest snapshot of any run.
func WithResume(runID string) Option {
	return func(a *App) {
		a.resume = true
		a.resumeID = runID
	}
}

// WithConfigWatch polls path during Run and applies hot-reloadable changes.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithJournal records each Run outcome in j instead of the journal named by
// snapshot.journal_path.
func WithJournal(j *runlog.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithListener serves the observability endpoints on ln instead of listening
// on the configured address.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initSim(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init sim: %w", err)
	}
	if err := a.initWatcher(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init config watcher: %w", err)
	}
	if a.journal == nil && cfg.Snapshot.JournalPath != "" {
		a.journal = runlog.New(cfg.Snapshot.JournalPath)
	}
	a.initServer()

	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	store, err := OpenStore(ctx, a.cfg.Snapshot, a.metrics)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) initSim(ctx context.Context) error {
	hooks := a.hooks
	if hooks == nil {
		hooks = sim.DefaultHooks()
	}
	opts := []sim.Option{
		sim.WithHooks(hooks...),
		sim.WithStore(a.store),
		sim.WithMetrics(a.metrics),
		sim.WithSnapshotEvery(a.cfg.Sim.SnapshotEvery),
	}
	if k := a.cfg.Sim.TraceAgents; k > 0 {
		opts = append(opts, sim.WithRecorder(sim.NewRecorder(k)))
	}

	if a.resume {
		s, err := sim.Resume(ctx, a.store, a.resumeID, opts...)
		if err != nil {
			return err
		}
		a.sim = s
		return nil
	}

	p, err := a.cfg.Pars()
	if err != nil {
		return err
	}
	if a.runID != "" {
		opts = append(opts, sim.WithRunID(a.runID))
	}
	s, err := sim.New(p, opts...)
	if err != nil {
		return err
	}
	a.sim = s
	return nil
}

func (a *App) initWatcher() error {
	if a.configPath == "" {
		return nil
	}
	w, err := config.NewWatcher(a.configPath, a.applyConfig)
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

func (a *App) initServer() {
	a.health = health.New(
		health.WithInfo(func() health.Info {
			p := a.sim.Progress()
			return health.Info{RunID: p.RunID, Step: p.Step, Steps: p.Steps, Alive: p.Alive, Done: p.Done}
		}),
		health.WithCheckers(health.PingCheck("snapshot_store", a.store)),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// applyConfig is the watcher callback. Only the log level and the snapshot
// cadence apply to a running simulation.
func (a *App) applyConfig(_, _ *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.SnapshotEveryChanged {
		a.sim.SetSnapshotEvery(diff.NewSnapshotEvery)
		slog.Info("snapshot cadence changed", "snapshot_every", diff.NewSnapshotEvery)
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes take effect on the next run", "fields", diff.RestartRequired)
	}
}

// Sim returns the simulation.
func (a *App) Sim() *sim.Sim { return a.sim }

// Store returns the snapshot store.
func (a *App) Store() snapshot.Store { return a.store }

// Handler returns the observability HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run drives the simulation until it finishes or ctx is cancelled. The
// observability server and config watcher run alongside it and stop when the
// simulation returns. A clean finish returns nil; cancellation returns the
// context's error after the simulation has saved its state.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	g.Go(func() error {
		defer stopAux()
		return a.sim.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("observability server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-auxCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(auxCtx), serverShutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(auxCtx) })
	}

	startStep, startedAt := a.sim.Step(), time.Now().UTC()
	slog.Info("app running", "run_id", a.sim.RunID(), "step", startStep, "steps", a.sim.Clock().StepCount())
	err := g.Wait()
	a.record(startStep, startedAt, err)
	return err
}

// record appends the outcome of Run to the journal, if any.
func (a *App) record(startStep int, startedAt time.Time, runErr error) {
	if a.journal == nil {
		return
	}
	alive, _ := a.sim.NumAlive()
	r := runlog.Record{
		RunID:     a.sim.RunID(),
		Status:    runlog.StatusCompleted,
		Seed:      a.sim.Sampler().Seed(),
		StartStep: startStep,
		EndStep:   a.sim.Step(),
		Steps:     a.sim.Clock().StepCount(),
		Agents:    a.sim.People().Len(),
		Alive:     alive,
		StartedAt: startedAt,
		EndedAt:   time.Now().UTC(),
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		r.Status = runlog.StatusInterrupted
	default:
		r.Status = runlog.StatusFailed
		r.Error = runErr.Error()
	}
	if err := a.journal.Append(r); err != nil {
		slog.Warn("failed to journal run", "path", a.journal.Path(), "err", err)
	}
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
