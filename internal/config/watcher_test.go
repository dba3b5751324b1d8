package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/avictorious/fpsim/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
sim:
  start_year: 1960
  end_year: 1980
  snapshot_every: 12
`

const watcherUpdatedYAML = `
server:
  log_level: debug
sim:
  start_year: 1960
  end_year: 1990
  snapshot_every: 24
`

const watcherInvalidYAML = `
server:
  log_level: bananas
sim:
  start_year: 1960
  end_year: 1980
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bump moves the file's mtime forward so the next poll notices it regardless
// of filesystem timestamp resolution.
func bump(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
}

type recorder struct {
	mu    sync.Mutex
	calls int
	old   *config.Config
	new   *config.Config
	diff  config.ConfigDiff
}

func (r *recorder) onChange(old, new *config.Config, diff config.ConfigDiff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.old, r.new, r.diff = old, new, diff
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := &recorder{}
	w, err := config.NewWatcher(cfgPath, rec.onChange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bump(t, cfgPath, time.Second)
	w.Check()

	if rec.count() != 1 {
		t.Fatalf("callback calls = %d, want 1", rec.count())
	}
	if rec.old.Server.LogLevel != config.LogInfo || rec.new.Server.LogLevel != config.LogDebug {
		t.Errorf("log levels: old %q new %q", rec.old.Server.LogLevel, rec.new.Server.LogLevel)
	}
	if !rec.diff.LogLevelChanged || !rec.diff.SnapshotEveryChanged || rec.diff.NewSnapshotEvery != 24 {
		t.Errorf("diff = %+v", rec.diff)
	}
	if len(rec.diff.RestartRequired) != 1 || rec.diff.RestartRequired[0] != "sim.end_year" {
		t.Errorf("RestartRequired = %v, want [sim.end_year]", rec.diff.RestartRequired)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", w.Current().Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := &recorder{}
	w, err := config.NewWatcher(cfgPath, rec.onChange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeFile(t, cfgPath, watcherInvalidYAML)
	bump(t, cfgPath, time.Second)
	w.Check()

	if rec.count() != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", rec.count())
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	rec := &recorder{}
	w, err := config.NewWatcher(cfgPath, rec.onChange)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bump(t, cfgPath, time.Second)
	w.Check()

	if rec.count() != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", rec.count())
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(cfgPath, func(_, _ *config.Config, _ config.ConfigDiff) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	bump(t, cfgPath, time.Second)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
