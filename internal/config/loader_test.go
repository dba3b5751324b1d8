package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avictorious/fpsim/internal/config"
)

const minimalYAML = `
sim:
  start_year: 1950
  end_year: 2015
  timestep: 3
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Sim.N != config.DefaultN || cfg.Sim.MaxAgePreg != config.DefaultMaxAgePreg {
		t.Errorf("sim defaults: n=%d max_age_preg=%d", cfg.Sim.N, cfg.Sim.MaxAgePreg)
	}
	if cfg.Sim.Seed != nil {
		t.Errorf("seed should stay unset, got %d", *cfg.Sim.Seed)
	}
	if cfg.Snapshot.Driver != config.DriverMemory {
		t.Errorf("driver = %q", cfg.Snapshot.Driver)
	}
	if cfg.Snapshot.Breaker.MaxFailures != config.DefaultMaxFailures || cfg.Snapshot.Breaker.ResetTimeout != config.DefaultResetTimeout {
		t.Errorf("breaker = %+v", cfg.Snapshot.Breaker)
	}
	if cfg.Telemetry.ServiceName != config.DefaultServiceName {
		t.Errorf("service_name = %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_FullDocument(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8081"
  log_level: warn
sim:
  n: 500
  start_year: 1960
  end_year: 2000
  timestep: 1
  seed: 42
  max_age_preg: 45
  snapshot_every: 24
  trace_agents: 3
  pars:
    exposure_factor: 1.2
    method_names: [none, pill, iud]
snapshot:
  driver: s3
  s3:
    bucket: runs
    region: eu-central-1
    endpoint: http://localhost:9000
    path_style: true
    prefix: fpsim/
  breaker:
    max_failures: 3
    reset_timeout: 10s
telemetry:
  service_name: fpsim-test
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sim.Seed == nil || *cfg.Sim.Seed != 42 {
		t.Errorf("seed = %v", cfg.Sim.Seed)
	}
	if cfg.Snapshot.S3.Bucket != "runs" || !cfg.Snapshot.S3.PathStyle || cfg.Snapshot.S3.Prefix != "fpsim/" {
		t.Errorf("s3 = %+v", cfg.Snapshot.S3)
	}
	if cfg.Snapshot.Breaker.ResetTimeout != 10*time.Second {
		t.Errorf("reset_timeout = %s", cfg.Snapshot.Breaker.ResetTimeout)
	}

	p, err := cfg.Pars()
	if err != nil {
		t.Fatalf("Pars: %v", err)
	}
	n, _ := p.Int("n")
	ts, _ := p.Float("timestep")
	ef, _ := p.Float("exposure_factor")
	if n != 500 || ts != 1 || ef != 1.2 {
		t.Errorf("pars n=%d timestep=%v exposure_factor=%v", n, ts, ef)
	}
	if !p.Has("seed") {
		t.Error("pars should carry the seed")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := minimalYAML + "bogus: true\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
sim:
  n: 10
  start_year: 2000
  end_year: 1990
  timestep: 13
  trace_agents: 11
snapshot:
  driver: s3
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, want := range []string{
		"server.log_level",
		"sim.end_year",
		"sim.timestep",
		"sim.trace_agents",
		"snapshot.s3.bucket",
		"snapshot.s3.region",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_DriverRequirements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.SnapshotConfig
		wantErr string
	}{
		{"postgres without dsn", config.SnapshotConfig{Driver: config.DriverPostgres}, "snapshot.postgres_dsn"},
		{"unknown driver", config.SnapshotConfig{Driver: "tape"}, "snapshot.driver"},
		{"negative breaker", config.SnapshotConfig{Driver: config.DriverMemory, Breaker: config.BreakerConfig{MaxFailures: -1}}, "max_failures"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{
				Sim:      config.SimConfig{N: 1, StartYear: 1960, EndYear: 1961, Timestep: 1},
				Snapshot: tc.cfg,
			}
			err := config.Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

// Environment overrides mutate process state, so this test is not parallel.
func TestLoadFromReader_EnvOverrides(t *testing.T) {
	t.Setenv("FPSIM_SIM_N", "250")
	t.Setenv("FPSIM_SIM_SEED", "99")
	t.Setenv("FPSIM_SERVER_LOG_LEVEL", "debug")
	t.Setenv("FPSIM_SNAPSHOT_DRIVER", "sqlite")
	t.Setenv("FPSIM_SNAPSHOT_SQLITE_PATH", "/tmp/runs.db")
	t.Setenv("FPSIM_SNAPSHOT_BREAKER_RESET_TIMEOUT", "1m")

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sim.N != 250 {
		t.Errorf("n = %d, want 250", cfg.Sim.N)
	}
	if cfg.Sim.Seed == nil || *cfg.Sim.Seed != 99 {
		t.Errorf("seed = %v, want 99", cfg.Sim.Seed)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Snapshot.Driver != config.DriverSQLite || cfg.Snapshot.SQLitePath != "/tmp/runs.db" {
		t.Errorf("snapshot = %+v", cfg.Snapshot)
	}
	if cfg.Snapshot.Breaker.ResetTimeout != time.Minute {
		t.Errorf("reset_timeout = %s", cfg.Snapshot.Breaker.ResetTimeout)
	}
	if cfg.Sim.StartYear != 1950 {
		t.Errorf("start_year from yaml lost: %v", cfg.Sim.StartYear)
	}

	t.Setenv("FPSIM_SIM_N", "many")
	if _, err := config.LoadFromReader(strings.NewReader(minimalYAML)); err == nil {
		t.Fatal("expected error for non-numeric FPSIM_SIM_N")
	}
}
