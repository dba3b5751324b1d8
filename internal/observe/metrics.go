// Package observe provides observability primitives for fpsim runs:
// OpenTelemetry metrics, tracing, run-scoped structured logging, and HTTP
// middleware for the observability listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all fpsim metrics.
const meterName = "github.com/avictorious/fpsim"

// Snapshot save outcomes used as the "status" attribute.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// StepDuration tracks the wall time of one simulation step including
	// hooks.
	StepDuration metric.Float64Histogram

	// Steps counts completed simulation steps.
	Steps metric.Int64Counter

	// Alive is the number of living agents after the latest step.
	Alive metric.Int64Gauge

	// Population is the full population size after the latest step.
	Population metric.Int64Gauge

	// SnapshotDuration tracks snapshot encode and save latency. Use with
	// attribute.String("driver", ...).
	SnapshotDuration metric.Float64Histogram

	// SnapshotSaves counts save attempts. Use with attributes:
	//   attribute.String("driver", ...), attribute.String("status", ...)
	SnapshotSaves metric.Int64Counter

	// SnapshotBytes tracks encoded snapshot sizes.
	SnapshotBytes metric.Int64Histogram

	// HTTPRequestDuration tracks observability listener request time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// stepBuckets defines histogram bucket boundaries (in seconds) for step and
// snapshot latencies.
var stepBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// sizeBuckets defines histogram bucket boundaries (in bytes) for encoded
// snapshots.
var sizeBuckets = []float64{
	1 << 10, 16 << 10, 128 << 10, 1 << 20, 8 << 20, 64 << 20, 256 << 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StepDuration, err = m.Float64Histogram("fpsim.step.duration",
		metric.WithDescription("Wall time of one simulation step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stepBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Steps, err = m.Int64Counter("fpsim.steps",
		metric.WithDescription("Completed simulation steps."),
	); err != nil {
		return nil, err
	}
	if met.Alive, err = m.Int64Gauge("fpsim.people.alive",
		metric.WithDescription("Living agents after the latest step."),
	); err != nil {
		return nil, err
	}
	if met.Population, err = m.Int64Gauge("fpsim.people.total",
		metric.WithDescription("Total agents, living or not, after the latest step."),
	); err != nil {
		return nil, err
	}
	if met.SnapshotDuration, err = m.Float64Histogram("fpsim.snapshot.duration",
		metric.WithDescription("Latency of encoding and saving a snapshot, by driver."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stepBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SnapshotSaves, err = m.Int64Counter("fpsim.snapshot.saves",
		metric.WithDescription("Snapshot save attempts by driver and status."),
	); err != nil {
		return nil, err
	}
	if met.SnapshotBytes, err = m.Int64Histogram("fpsim.snapshot.size",
		metric.WithDescription("Encoded snapshot size."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("fpsim.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStep records one completed step.
func (m *Metrics) RecordStep(ctx context.Context, d time.Duration, alive, population int) {
	m.StepDuration.Record(ctx, d.Seconds())
	m.Steps.Add(ctx, 1)
	m.Alive.Record(ctx, int64(alive))
	m.Population.Record(ctx, int64(population))
}

// RecordSnapshot records one save attempt. size is ignored unless status is
// StatusOK.
func (m *Metrics) RecordSnapshot(ctx context.Context, driver, status string, d time.Duration, size int) {
	drv := metric.WithAttributes(attribute.String("driver", driver))
	m.SnapshotDuration.Record(ctx, d.Seconds(), drv)
	m.SnapshotSaves.Add(ctx, 1, metric.WithAttributes(
		attribute.String("driver", driver),
		attribute.String("status", status),
	))
	if status == StatusOK {
		m.SnapshotBytes.Record(ctx, int64(size), drv)
	}
}
