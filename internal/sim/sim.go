// Package sim runs a family-planning simulation: it owns the run's
// parameters, clock, population and sampler, applies step hooks in order and
// persists snapshots so a run can be inspected or resumed.
//
// A Sim is driven from a single goroutine. [Sim.Progress] and
// [Sim.SetSnapshotEvery] are the only methods safe to call concurrently with
// [Sim.Run].
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avictorious/fpsim/internal/observe"
	"github.com/avictorious/fpsim/internal/snapshot"
	"github.com/avictorious/fpsim/pkg/clock"
	"github.com/avictorious/fpsim/pkg/pars"
	"github.com/avictorious/fpsim/pkg/people"
	"github.com/avictorious/fpsim/pkg/sampling"
)

// Parameter keys read by [New].
const (
	NKey          = "n"
	SeedKey       = "seed"
	MaxAgePregKey = "max_age_preg"
)

// shutdownSaveTimeout bounds the snapshot written when a run is cancelled.
const shutdownSaveTimeout = 30 * time.Second

var (
	// ErrFinished is returned by [Sim.Advance] once every step has run.
	ErrFinished = errors.New("sim: run already finished")

	// ErrInvalidPars is returned when the run parameters cannot describe a run.
	ErrInvalidPars = errors.New("sim: invalid parameters")
)

// Progress is a point-in-time view of a run, safe to read from any goroutine.
type Progress struct {
	RunID string
	Step  int
	Steps int
	Alive int
	Done  bool
}

// Sim is one simulation run.
type Sim struct {
	runID    string
	pars     *pars.Pars
	clock    *clock.Clock
	people   *people.People
	rng      *sampling.Engine
	hooks    []Hook
	recorder *Recorder
	store    snapshot.Store
	metrics  *observe.Metrics

	step      int
	lastSaved int

	snapshotEvery atomic.Int64
	progStep      atomic.Int64
	progSteps     atomic.Int64
	progAlive     atomic.Int64
	progDone      atomic.Bool
}

// Option configures a [Sim].
type Option func(*Sim)

// WithRunID sets the run id. New generates one when unset; Resume keeps the
// snapshot's.
func WithRunID(id string) Option {
	return func(s *Sim) { s.runID = id }
}

// WithHooks appends step hooks.
func WithHooks(hooks ...Hook) Option {
	return func(s *Sim) { s.hooks = append(s.hooks, hooks...) }
}

// WithRecorder traces agents after every step, after all hooks.
func WithRecorder(r *Recorder) Option {
	return func(s *Sim) { s.recorder = r }
}

// WithStore persists snapshots to store.
func WithStore(store snapshot.Store) Option {
	return func(s *Sim) { s.store = store }
}

// WithSnapshotEvery saves a snapshot every n completed steps. 0 saves only
// the final state.
func WithSnapshotEvery(n int) Option {
	return func(s *Sim) { s.snapshotEvery.Store(int64(max(n, 0))) }
}

// WithMetrics records step metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sim) { s.metrics = m }
}

// DefaultHooks returns the hooks a run uses when nothing else is configured.
func DefaultHooks() []Hook {
	return []Hook{Aging()}
}

// New prepares a run from p. p must hold start_year, end_year, timestep and
// n. When p has no seed one is drawn, stored in p and logged so the run can
// be reproduced.
func New(p *pars.Pars, opts ...Option) (*Sim, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil pars", ErrInvalidPars)
	}
	clk := clock.New(p)
	if !clk.Complete() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPars, clock.ErrIncomplete)
	}

	n, err := p.Int(NKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPars, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: n %d must not be negative", ErrInvalidPars, n)
	}

	seed, ok, err := seedFrom(p)
	if err != nil {
		return nil, err
	}
	if !ok {
		if seed, err = sampling.NewSeed(); err != nil {
			return nil, fmt.Errorf("sim: draw seed: %w", err)
		}
		p.Set(SeedKey, seed)
	}
	rng := sampling.New(seed)

	maxAge := people.DefaultMaxAgePreg
	if p.Has(MaxAgePregKey) {
		if maxAge, err = p.Int(MaxAgePregKey); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPars, err)
		}
	}

	pop, err := NewPopulation(p, n, rng, people.WithMaxAgePreg(maxAge))
	if err != nil {
		return nil, err
	}

	s := assemble(p, rng, pop, 0, opts)
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	if !ok {
		observe.Logger(context.Background()).Info("drew random seed", "run_id", s.runID, "seed", seed)
	}
	return s, nil
}

// Resume continues the most recent snapshot of runID from store. An empty
// runID resumes the newest snapshot of any run. The store is used for
// further snapshots unless opts replace it.
func Resume(ctx context.Context, store snapshot.Store, runID string, opts ...Option) (*Sim, error) {
	e, err := store.Latest(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("sim: resume: %w", err)
	}

	p, err := pars.New(e.Pars)
	if err != nil {
		return nil, fmt.Errorf("sim: resume pars: %w", err)
	}
	p.Set(SeedKey, e.Seed)
	if !clock.New(p).Complete() {
		return nil, fmt.Errorf("%w: snapshot %s/%d: %w", ErrInvalidPars, e.RunID, e.Step, clock.ErrIncomplete)
	}

	rng := sampling.New(e.Seed)
	if len(e.SamplerState) > 0 {
		if err := rng.UnmarshalBinary(e.SamplerState); err != nil {
			return nil, fmt.Errorf("sim: resume sampler: %w", err)
		}
	}

	pop, err := people.Restore(e.People, people.WithSampler(rng))
	if err != nil {
		return nil, fmt.Errorf("sim: resume people: %w", err)
	}

	opts = append([]Option{WithStore(store)}, opts...)
	s := assemble(p, rng, pop.Unfilter(), e.Step, opts)
	s.runID = e.RunID
	s.lastSaved = e.Step
	observe.Logger(ctx).Info("resumed simulation", "run_id", s.runID, "step", s.step, "seed", e.Seed)
	return s, nil
}

func assemble(p *pars.Pars, rng *sampling.Engine, pop *people.People, step int, opts []Option) *Sim {
	s := &Sim{
		pars:      p,
		clock:     clock.New(p),
		people:    pop,
		rng:       rng,
		step:      step,
		lastSaved: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.publish()
	return s
}

// seedFrom reads the seed parameter. Decoded config may carry it as any
// numeric type.
func seedFrom(p *pars.Pars) (uint64, bool, error) {
	v, err := p.Get(SeedKey)
	if err != nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case uint64:
		return n, true, nil
	case int:
		if n >= 0 {
			return uint64(n), true, nil
		}
	case int64:
		if n >= 0 {
			return uint64(n), true, nil
		}
	case float64:
		if n >= 0 && n == float64(uint64(n)) {
			return uint64(n), true, nil
		}
	}
	return 0, false, fmt.Errorf("%w: seed %v (%T) is not a non-negative integer", ErrInvalidPars, v, v)
}

// RunID returns the run's identifier.
func (s *Sim) RunID() string { return s.runID }

// Pars returns the run parameters.
func (s *Sim) Pars() *pars.Pars { return s.pars }

// Clock returns the run's time index.
func (s *Sim) Clock() *clock.Clock { return s.clock }

// People returns the root, unfiltered population.
func (s *Sim) People() *people.People { return s.people }

// Sampler returns the run's random source.
func (s *Sim) Sampler() *sampling.Engine { return s.rng }

// Recorder returns the agent recorder, or nil.
func (s *Sim) Recorder() *Recorder { return s.recorder }

// Step returns the index of the step about to run, which is also the number
// of completed steps.
func (s *Sim) Step() int { return s.step }

// Year returns the calendar year at the start of the current step.
func (s *Sim) Year() float64 {
	y, _ := s.clock.StepToYear(s.step)
	return y
}

// Done reports whether every step has run.
func (s *Sim) Done() bool { return s.step >= s.clock.StepCount() }

// NumAlive counts living agents.
func (s *Sim) NumAlive() (int, error) { return s.people.NumAlive() }

// SetSnapshotEvery changes the snapshot cadence of a running simulation.
func (s *Sim) SetSnapshotEvery(n int) { s.snapshotEvery.Store(int64(max(n, 0))) }

// SnapshotEvery returns the current snapshot cadence.
func (s *Sim) SnapshotEvery() int { return int(s.snapshotEvery.Load()) }

// Progress returns the last published progress.
func (s *Sim) Progress() Progress {
	return Progress{
		RunID: s.runID,
		Step:  int(s.progStep.Load()),
		Steps: int(s.progSteps.Load()),
		Alive: int(s.progAlive.Load()),
		Done:  s.progDone.Load(),
	}
}

func (s *Sim) publish() {
	alive, _ := s.people.NumAlive()
	s.progStep.Store(int64(s.step))
	s.progSteps.Store(int64(s.clock.StepCount()))
	s.progAlive.Store(int64(alive))
}

// Advance runs the hooks for the current step and moves to the next one. If
// a hook fails the step is not counted; the population may hold that step's
// partial updates.
func (s *Sim) Advance(ctx context.Context) error {
	if s.Done() {
		return ErrFinished
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "sim.step", trace.WithAttributes(
		attribute.Int("sim.step", s.step),
		attribute.Float64("sim.year", s.Year()),
	))
	defer span.End()

	for _, h := range s.hooks {
		if err := h.Apply(ctx, s); err != nil {
			err = fmt.Errorf("sim: step %d hook %q: %w", s.step, h.Name(), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Apply(ctx, s); err != nil {
			return err
		}
	}
	s.step++

	alive, err := s.people.NumAlive()
	if err != nil {
		return fmt.Errorf("sim: count alive: %w", err)
	}
	s.metrics.RecordStep(ctx, time.Since(start), alive, s.people.Len())
	s.publish()
	return nil
}

// Run advances until every step has run or ctx is cancelled. Periodic
// snapshot failures are logged and the run continues; a failed final
// snapshot is returned. On cancellation the current state is saved before
// returning ctx's error.
func (s *Sim) Run(ctx context.Context) error {
	ctx = observe.WithRunID(ctx, s.runID)
	ctx, span := observe.StartSpan(ctx, "sim.run", trace.WithAttributes(
		attribute.String("run.id", s.runID),
		attribute.Int("sim.start_step", s.step),
	))
	defer span.End()

	log := observe.Logger(ctx)
	log.Info("simulation started",
		"step", s.step,
		"steps", s.clock.StepCount(),
		"agents", s.people.Len(),
		"seed", s.rng.Seed(),
		"hooks", len(s.hooks),
	)

	for !s.Done() {
		if err := ctx.Err(); err != nil {
			log.Info("simulation interrupted", "step", s.step)
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownSaveTimeout)
			if _, serr := s.Save(saveCtx); serr != nil {
				log.Warn("snapshot on shutdown failed", "err", serr)
			}
			cancel()
			return err
		}
		if err := s.Advance(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if every := s.SnapshotEvery(); every > 0 && s.step%every == 0 {
			if _, err := s.Save(ctx); err != nil {
				log.Warn("periodic snapshot failed", "step", s.step, "err", err)
			}
		}
	}

	if s.lastSaved != s.step {
		if _, err := s.Save(ctx); err != nil {
			return fmt.Errorf("sim: final snapshot: %w", err)
		}
	}
	s.progDone.Store(true)

	alive, _ := s.people.NumAlive()
	log.Info("simulation finished", "steps", s.step, "alive", alive, "agents", s.people.Len())
	return nil
}

// Envelope captures the current state for persistence.
func (s *Sim) Envelope() (*snapshot.Envelope, error) {
	state, err := s.rng.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sim: sampler state: %w", err)
	}
	return &snapshot.Envelope{
		RunID:        s.runID,
		Step:         s.step,
		Seed:         s.rng.Seed(),
		SamplerState: state,
		Pars:         s.pars.Map(),
		People:       s.people.Snapshot(),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Save persists the current state. It is a no-op without a store.
func (s *Sim) Save(ctx context.Context) (snapshot.Meta, error) {
	if s.store == nil {
		return snapshot.Meta{}, nil
	}
	e, err := s.Envelope()
	if err != nil {
		return snapshot.Meta{}, err
	}
	meta, err := s.store.Save(ctx, e)
	if err != nil {
		return snapshot.Meta{}, err
	}
	s.lastSaved = s.step
	return meta, nil
}
