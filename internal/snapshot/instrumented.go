package snapshot

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/avictorious/fpsim/internal/observe"
	"github.com/avictorious/fpsim/internal/resilience"
)

// Instrumented wraps a [Store] with tracing, metrics and an optional circuit
// breaker around Save.
type Instrumented struct {
	Store
	driver  string
	metrics *observe.Metrics
	breaker *resilience.Breaker
}

var _ Store = (*Instrumented)(nil)

// InstrumentOption configures an [Instrumented] store.
type InstrumentOption func(*Instrumented)

// WithBreaker guards Save with b.
func WithBreaker(b *resilience.Breaker) InstrumentOption {
	return func(s *Instrumented) { s.breaker = b }
}

// WithMetrics records saves on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) InstrumentOption {
	return func(s *Instrumented) { s.metrics = m }
}

// Instrument wraps inner. driver labels spans and metrics.
func Instrument(inner Store, driver string, opts ...InstrumentOption) *Instrumented {
	s := &Instrumented{Store: inner, driver: driver}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Save stores e through the breaker, if any.
func (s *Instrumented) Save(ctx context.Context, e *Envelope) (Meta, error) {
	ctx, span := observe.StartSpan(ctx, "snapshot.save",
		trace.WithAttributes(
			attribute.String("snapshot.driver", s.driver),
			attribute.String("run.id", e.RunID),
			attribute.Int("sim.step", e.Step),
		),
	)
	defer span.End()

	start := time.Now()
	var meta Meta
	save := func(ctx context.Context) error {
		var err error
		meta, err = s.Store.Save(ctx, e)
		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Do(ctx, save)
	} else {
		err = save(ctx)
	}

	status := observe.StatusOK
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = observe.StatusRejected
	case err != nil:
		status = observe.StatusError
	}
	s.metrics.RecordSnapshot(ctx, s.driver, status, time.Since(start), int(meta.Size))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Warn("snapshot save failed",
			"driver", s.driver, "step", e.Step, "status", status, "err", err)
		return Meta{}, err
	}
	span.SetAttributes(attribute.Int64("snapshot.size", meta.Size))
	observe.Logger(ctx).Debug("snapshot saved",
		"driver", s.driver, "step", e.Step, "size", meta.Size)
	return meta, nil
}

// Latest loads the newest snapshot inside a span.
func (s *Instrumented) Latest(ctx context.Context, runID string) (*Envelope, error) {
	ctx, span := observe.StartSpan(ctx, "snapshot.latest",
		trace.WithAttributes(attribute.String("snapshot.driver", s.driver)))
	defer span.End()

	e, err := s.Store.Latest(ctx, runID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return e, err
}
