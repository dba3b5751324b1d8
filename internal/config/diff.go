package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else that
// affects the run is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SnapshotEveryChanged bool
	NewSnapshotEvery     int

	// RestartRequired names changed fields that only take effect on the next
	// run (e.g. "sim.n", "snapshot.driver").
	RestartRequired []string
}

// Empty reports whether nothing relevant changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SnapshotEveryChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Sim.SnapshotEvery != new.Sim.SnapshotEvery {
		d.SnapshotEveryChanged = true
		d.NewSnapshotEvery = new.Sim.SnapshotEvery
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("sim.n", old.Sim.N != new.Sim.N)
	restart("sim.start_year", old.Sim.StartYear != new.Sim.StartYear)
	restart("sim.end_year", old.Sim.EndYear != new.Sim.EndYear)
	restart("sim.timestep", old.Sim.Timestep != new.Sim.Timestep)
	restart("sim.seed", !seedEqual(old.Sim.Seed, new.Sim.Seed))
	restart("sim.max_age_preg", old.Sim.MaxAgePreg != new.Sim.MaxAgePreg)
	restart("sim.trace_agents", old.Sim.TraceAgents != new.Sim.TraceAgents)
	restart("sim.pars", !reflect.DeepEqual(old.Sim.Pars, new.Sim.Pars))
	restart("snapshot", old.Snapshot != new.Snapshot)
	restart("telemetry.service_name", old.Telemetry.ServiceName != new.Telemetry.ServiceName)

	return d
}

func seedEqual(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
