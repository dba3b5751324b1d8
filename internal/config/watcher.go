package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is the polling period used unless [WithInterval]
// overrides it.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc is invoked with the previous config, the newly loaded one and
// the difference between them.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// Watcher polls a config file and reports valid changes. An invalid edit is
// logged and ignored; the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	hash    [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher holding it. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.hash, w.mtime = cfg, hash, mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. It always returns nil so it can be placed in
// an errgroup next to the simulation.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check performs one poll. It is exported for callers that drive polling
// themselves.
func (w *Watcher) Check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.hash {
		w.mtime = mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.hash, w.mtime = cfg, hash, mtime
	w.mu.Unlock()

	diff := Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", diff.LogLevelChanged,
		"snapshot_every_changed", diff.SnapshotEveryChanged,
		"restart_required", diff.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
}

// read loads, validates and fingerprints the file.
func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
