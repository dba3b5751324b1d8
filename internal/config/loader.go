package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/avictorious/fpsim/pkg/clock"
	"github.com/avictorious/fpsim/pkg/pars"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FPSIM_"

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr   = ":9090"
	DefaultN            = 1000
	DefaultTimestep     = 1
	DefaultMaxAgePreg   = 50
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultServiceName  = "fpsim"
	defaultSnapshotsDir = "snapshots"
	defaultSQLiteSnapDB = "fpsim.db"
	maxTimestepMonths   = 12
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document is allowed; the
// run is then described entirely by the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any FPSIM_* variables present in the
// environment, e.g. FPSIM_SIM_N or FPSIM_SNAPSHOT_S3_BUCKET.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Sim.N == 0 {
		cfg.Sim.N = DefaultN
	}
	if cfg.Sim.Timestep == 0 {
		cfg.Sim.Timestep = DefaultTimestep
	}
	if cfg.Sim.MaxAgePreg == 0 {
		cfg.Sim.MaxAgePreg = DefaultMaxAgePreg
	}
	if cfg.Snapshot.Driver == "" {
		cfg.Snapshot.Driver = DriverMemory
	}
	if cfg.Snapshot.Driver == DriverFile && cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = defaultSnapshotsDir
	}
	if cfg.Snapshot.Driver == DriverSQLite && cfg.Snapshot.SQLitePath == "" {
		cfg.Snapshot.SQLitePath = defaultSQLiteSnapDB
	}
	if cfg.Snapshot.Breaker.MaxFailures == 0 {
		cfg.Snapshot.Breaker.MaxFailures = DefaultMaxFailures
	}
	if cfg.Snapshot.Breaker.ResetTimeout == 0 {
		cfg.Snapshot.Breaker.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	sim := cfg.Sim
	if sim.N < 0 {
		errs = append(errs, fmt.Errorf("sim.n %d must not be negative", sim.N))
	}
	if sim.StartYear == 0 {
		errs = append(errs, errors.New("sim.start_year is required"))
	}
	if sim.EndYear == 0 {
		errs = append(errs, errors.New("sim.end_year is required"))
	}
	if sim.StartYear != 0 && sim.EndYear != 0 && sim.EndYear < sim.StartYear {
		errs = append(errs, fmt.Errorf("sim.end_year %v is before sim.start_year %v", sim.EndYear, sim.StartYear))
	}
	if sim.Timestep <= 0 || sim.Timestep > maxTimestepMonths {
		errs = append(errs, fmt.Errorf("sim.timestep %v is out of range (0, %d] months", sim.Timestep, maxTimestepMonths))
	}
	if sim.MaxAgePreg < 0 {
		errs = append(errs, fmt.Errorf("sim.max_age_preg %d must not be negative", sim.MaxAgePreg))
	}
	if sim.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("sim.snapshot_every %d must not be negative", sim.SnapshotEvery))
	}
	if sim.TraceAgents < 0 || sim.TraceAgents > sim.N {
		errs = append(errs, fmt.Errorf("sim.trace_agents %d is out of range [0, %d]", sim.TraceAgents, sim.N))
	}
	for _, reserved := range []string{"n", clock.StartYearKey, clock.EndYearKey, clock.TimestepKey} {
		if _, ok := sim.Pars[reserved]; ok {
			slog.Warn("sim.pars key shadows a structured sim field and will be ignored", "key", reserved)
		}
	}

	snap := cfg.Snapshot
	if snap.Driver != "" && !snap.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("snapshot.driver %q is invalid; valid values: memory, file, sqlite, postgres, s3", snap.Driver))
	}
	switch snap.Driver {
	case DriverFile:
		if snap.Dir == "" {
			errs = append(errs, errors.New("snapshot.dir is required when driver is file"))
		}
	case DriverSQLite:
		if snap.SQLitePath == "" {
			errs = append(errs, errors.New("snapshot.sqlite_path is required when driver is sqlite"))
		}
	case DriverPostgres:
		if snap.PostgresDSN == "" {
			errs = append(errs, errors.New("snapshot.postgres_dsn is required when driver is postgres"))
		}
	case DriverS3:
		if snap.S3.Bucket == "" {
			errs = append(errs, errors.New("snapshot.s3.bucket is required when driver is s3"))
		}
		if snap.S3.Region == "" {
			errs = append(errs, errors.New("snapshot.s3.region is required when driver is s3"))
		}
	}
	if snap.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("snapshot.breaker.max_failures %d must not be negative", snap.Breaker.MaxFailures))
	}
	if snap.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("snapshot.breaker.reset_timeout %s must not be negative", snap.Breaker.ResetTimeout))
	}
	if snap.Driver == DriverMemory && sim.SnapshotEvery > 0 {
		slog.Warn("snapshot.driver is memory; periodic snapshots will not survive the process")
	}

	return errors.Join(errs...)
}

// Pars builds the run's parameter overlay. Free-form sim.pars form the base
// and the structured sim fields are applied on top, so they always win.
func (c *Config) Pars() (*pars.Pars, error) {
	structured := map[string]any{
		"n":                c.Sim.N,
		clock.StartYearKey: c.Sim.StartYear,
		clock.EndYearKey:   c.Sim.EndYear,
		clock.TimestepKey:  c.Sim.Timestep,
		"max_age_preg":     c.Sim.MaxAgePreg,
	}
	if c.Sim.Seed != nil {
		structured["seed"] = *c.Sim.Seed
	}
	p, err := pars.New(c.Sim.Pars, structured)
	if err != nil {
		return nil, fmt.Errorf("config: build pars: %w", err)
	}
	return p, nil
}
