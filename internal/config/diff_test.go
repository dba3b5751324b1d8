package config_test

import (
	"slices"
	"testing"

	"github.com/avictorious/fpsim/internal/config"
)

func baseConfig() *config.Config {
	seed := uint64(7)
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":9090", LogLevel: config.LogInfo},
		Sim: config.SimConfig{
			N: 100, StartYear: 1960, EndYear: 1970, Timestep: 1, Seed: &seed,
			SnapshotEvery: 12, Pars: map[string]any{"exposure": 1.0},
		},
		Snapshot: config.SnapshotConfig{Driver: config.DriverMemory},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug
	new.Sim.SnapshotEvery = 6

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v %q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.SnapshotEveryChanged || d.NewSnapshotEvery != 6 {
		t.Errorf("snapshot_every diff = %v %d", d.SnapshotEveryChanged, d.NewSnapshotEvery)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"population", func(c *config.Config) { c.Sim.N = 200 }, "sim.n"},
		{"timestep", func(c *config.Config) { c.Sim.Timestep = 3 }, "sim.timestep"},
		{"seed value", func(c *config.Config) { s := uint64(8); c.Sim.Seed = &s }, "sim.seed"},
		{"seed cleared", func(c *config.Config) { c.Sim.Seed = nil }, "sim.seed"},
		{"free-form pars", func(c *config.Config) { c.Sim.Pars["exposure"] = 0.5 }, "sim.pars"},
		{"driver", func(c *config.Config) { c.Snapshot.Driver = config.DriverFile }, "snapshot"},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9191" }, "server.listen_addr"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tc.mutate(new)
			d := config.Diff(old, new)
			if !slices.Contains(d.RestartRequired, tc.want) {
				t.Errorf("RestartRequired = %v, want to contain %q", d.RestartRequired, tc.want)
			}
			if d.LogLevelChanged || d.SnapshotEveryChanged {
				t.Errorf("unexpected hot-reload change: %+v", d)
			}
		})
	}
}
