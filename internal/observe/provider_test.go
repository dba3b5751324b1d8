package observe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitProvider(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	spans := tracetest.NewInMemoryExporter()
	ctx := context.Background()

	shutdown, err := InitProvider(ctx, ProviderConfig{
		ServiceVersion: "test",
		RunID:          "run-42",
		Registerer:     reg,
		TraceExporter:  spans,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordStep(ctx, 20*time.Millisecond, 19, 20)
	_, span := StartSpan(ctx, "sim.run")
	span.End()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawSteps, sawRunID bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "fpsim_steps") {
			sawSteps = true
		}
		if f.GetName() != "target_info" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "service_instance_id" && l.GetValue() == "run-42" {
					sawRunID = true
				}
			}
		}
	}
	if !sawSteps {
		t.Error("step counter not exported to the registry")
	}
	if !sawRunID {
		t.Error("target_info does not carry the run id")
	}

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("global tracer provider is %T", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
	if got := spans.GetSpans(); len(got) != 1 || got[0].Name != "sim.run" {
		t.Fatalf("exported spans = %v, want one sim.run span", got)
	}
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
