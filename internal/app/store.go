package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avictorious/fpsim/internal/config"
	"github.com/avictorious/fpsim/internal/observe"
	"github.com/avictorious/fpsim/internal/resilience"
	"github.com/avictorious/fpsim/internal/snapshot"
	"github.com/avictorious/fpsim/internal/snapshot/file"
	"github.com/avictorious/fpsim/internal/snapshot/memory"
	"github.com/avictorious/fpsim/internal/snapshot/postgres"
	"github.com/avictorious/fpsim/internal/snapshot/s3"
	"github.com/avictorious/fpsim/internal/snapshot/sqlite"
)

// OpenStore connects the snapshot backend named by cfg.Driver and wraps it
// with tracing and metrics. Remote backends also get a circuit breaker so an
// unreachable service does not stall every periodic save. The caller owns
// the returned store and must Close it.
func OpenStore(ctx context.Context, cfg config.SnapshotConfig, m *observe.Metrics) (snapshot.Store, error) {
	var (
		inner snapshot.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverMemory, "":
		inner = memory.New()
	case config.DriverFile:
		inner, err = file.New(cfg.Dir)
	case config.DriverSQLite:
		inner, err = sqlite.Open(cfg.SQLitePath)
	case config.DriverPostgres:
		inner, err = postgres.Connect(ctx, cfg.PostgresDSN)
	case config.DriverS3:
		inner, err = s3.New(ctx, s3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
			Prefix:    cfg.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("app: unknown snapshot driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("app: open %s snapshot store: %w", cfg.Driver, err)
	}

	driver := string(cfg.Driver)
	if driver == "" {
		driver = string(config.DriverMemory)
	}
	opts := []snapshot.InstrumentOption{}
	if m != nil {
		opts = append(opts, snapshot.WithMetrics(m))
	}
	if cfg.Driver.Remote() {
		opts = append(opts, snapshot.WithBreaker(newBreaker(driver, cfg.Breaker)))
	}
	slog.Info("snapshot store opened", "driver", driver)
	return snapshot.Instrument(inner, driver, opts...), nil
}

func newBreaker(driver string, cfg config.BreakerConfig) *resilience.Breaker {
	return resilience.New(resilience.Config{
		Name:         "snapshot-" + driver,
		MaxFailures:  cfg.MaxFailures,
		ResetTimeout: cfg.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}
