package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/avictorious/fpsim/internal/config"
	"github.com/avictorious/fpsim/internal/observe"
	"github.com/avictorious/fpsim/internal/runlog"
	"github.com/avictorious/fpsim/internal/snapshot"
	"github.com/avictorious/fpsim/internal/snapshot/memory"
)

// testConfig returns a small, valid run: 20 agents, 2 years, quarterly steps.
func testConfig() *config.Config {
	seed := uint64(11)
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Sim: config.SimConfig{
			N:         20,
			StartYear: 2000,
			EndYear:   2002,
			Timestep:  3,
			Seed:      &seed,
		},
		Snapshot: config.SnapshotConfig{Driver: config.DriverMemory},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func listener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func TestNew_OpensConfiguredStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	a, err := New(context.Background(), cfg, WithMetrics(testMetrics(t)), WithRunID("fresh"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if _, ok := a.Store().(*snapshot.Instrumented); !ok {
		t.Fatalf("Store is %T, want *snapshot.Instrumented", a.Store())
	}
	if a.Sim().RunID() != "fresh" {
		t.Fatalf("RunID = %q, want fresh", a.Sim().RunID())
	}
	if a.Sim().People().Len() != 20 {
		t.Fatalf("population = %d, want 20", a.Sim().People().Len())
	}
}

func TestNew_InvalidPars(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Sim.Pars = map[string]any{"age_pyramid": "flat"}
	if _, err := New(context.Background(), cfg, WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("New succeeded with an invalid age pyramid")
	}
}

func TestRun_CompletesAndSaves(t *testing.T) {
	t.Parallel()

	store := memory.New()
	cfg := testConfig()
	cfg.Sim.SnapshotEvery = 4
	cfg.Sim.TraceAgents = 2

	a, err := New(context.Background(), cfg,
		WithStore(store),
		WithMetrics(testMetrics(t)),
		WithListener(listener(t)),
		WithRunID("complete"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	metas, err := store.List(context.Background(), "complete")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 3 || metas[len(metas)-1].Step != 9 {
		t.Fatalf("snapshots = %+v, want steps 4, 8, 9", metas)
	}
	if got := a.Sim().Recorder().Len(); got != 9 {
		t.Fatalf("recorded steps = %d, want 9", got)
	}
}

func TestRun_CancelledSavesState(t *testing.T) {
	t.Parallel()

	store := memory.New()
	a, err := New(context.Background(), testConfig(),
		WithStore(store),
		WithMetrics(testMetrics(t)),
		WithListener(listener(t)),
		WithRunID("stopped"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if _, err := store.Latest(context.Background(), "stopped"); err != nil {
		t.Fatalf("no snapshot after cancellation: %v", err)
	}
}

func TestRun_Journal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.jsonl")
	cfg := testConfig()
	cfg.Snapshot.JournalPath = path
	store := memory.New()

	a, err := New(context.Background(), cfg, WithStore(store), WithMetrics(testMetrics(t)), WithListener(listener(t)), WithRunID("logged"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	b, err := New(context.Background(), cfg, WithStore(store), WithMetrics(testMetrics(t)), WithListener(listener(t)), WithResume("logged"))
	if err != nil {
		t.Fatalf("New(resume): %v", err)
	}
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run(resume): %v", err)
	}

	records, err := runlog.Read(path, "logged")
	if err != nil {
		t.Fatalf("runlog.Read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("journal records = %d, want 2", len(records))
	}
	if records[0].Status != runlog.StatusInterrupted || records[0].EndStep != 0 {
		t.Fatalf("first record = %+v", records[0])
	}
	last := records[1]
	if last.Status != runlog.StatusCompleted || last.StartStep != 0 || last.EndStep != 9 || last.Seed != 11 || last.Agents != 20 {
		t.Fatalf("second record = %+v", last)
	}
}

func TestNew_Resume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.New()
	first, err := New(ctx, testConfig(), WithStore(store), WithMetrics(testMetrics(t)), WithRunID("again"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for range 3 {
		if err := first.Sim().Advance(ctx); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	if _, err := first.Sim().Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second, err := New(ctx, testConfig(), WithStore(store), WithMetrics(testMetrics(t)), WithResume(""))
	if err != nil {
		t.Fatalf("New(resume): %v", err)
	}
	if second.Sim().RunID() != "again" || second.Sim().Step() != 3 {
		t.Fatalf("resumed %s at %d, want again at 3", second.Sim().RunID(), second.Sim().Step())
	}

	if _, err := New(ctx, testConfig(), WithStore(memory.New()), WithMetrics(testMetrics(t)), WithResume("")); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("resume from empty store = %v, want ErrNotFound", err)
	}
}

func TestHandler_Endpoints(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(), WithStore(memory.New()), WithMetrics(testMetrics(t)), WithRunID("probe"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{path: "/healthz", wantCode: http.StatusOK, wantBody: `"run_id":"probe"`},
		{path: "/readyz", wantCode: http.StatusOK, wantBody: `"snapshot_store":"ok"`},
		{path: "/metrics", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	level := new(slog.LevelVar)
	a, err := New(context.Background(), testConfig(), WithStore(memory.New()), WithMetrics(testMetrics(t)), WithLevelVar(level))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	old := testConfig()
	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Sim.SnapshotEvery = 7
	next.Sim.N = 500

	a.applyConfig(old, next, config.Diff(old, next))
	if level.Level() != slog.LevelDebug {
		t.Fatalf("level = %v, want debug", level.Level())
	}
	if got := a.Sim().SnapshotEvery(); got != 7 {
		t.Fatalf("SnapshotEvery = %d, want 7", got)
	}
	if got := a.Sim().People().Len(); got != 20 {
		t.Fatalf("population changed to %d on reload", got)
	}
}

func TestOpenStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.SnapshotConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.SnapshotConfig{Driver: config.DriverMemory}},
		{name: "file", cfg: config.SnapshotConfig{Driver: config.DriverFile, Dir: t.TempDir()}},
		{name: "sqlite", cfg: config.SnapshotConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "snap.db")}},
		{name: "unknown", cfg: config.SnapshotConfig{Driver: "tape"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := OpenStore(ctx, tt.cfg, testMetrics(t))
			if tt.wantErr {
				if err == nil {
					t.Fatal("OpenStore succeeded")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenStore: %v", err)
			}
			defer store.Close()
			if err := store.Ping(ctx); err != nil {
				t.Fatalf("Ping: %v", err)
			}
		})
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	calls := 0
	a.closers = append(a.closers, func() error { calls++; return nil })

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if calls != 1 {
		t.Fatalf("closer called %d times, want 1", calls)
	}
}

func TestApp_ShutdownRespectsDeadline(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(), WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Shutdown = %v, want context.Canceled", err)
	}
}
