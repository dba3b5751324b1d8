// Command fpsim runs agent-based family-planning simulations and inspects
// their snapshots.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/avictorious/fpsim/internal/app"
	"github.com/avictorious/fpsim/internal/config"
	"github.com/avictorious/fpsim/internal/observe"
	"github.com/avictorious/fpsim/internal/runlog"
	"github.com/avictorious/fpsim/internal/snapshot"
	"github.com/avictorious/fpsim/pkg/people"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "fpsim: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "fpsim",
		Short:         "Agent-based family-planning simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	cmd.AddCommand(runCmd(&configPath), inspectCmd(&configPath), versionCmd())
	return cmd
}

type runOptions struct {
	configPath string
	runID      string
	resume     bool
	watch      bool
	traceOut   string
}

func runCmd(configPath *string) *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation, or resume one from its latest snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o.configPath = *configPath
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSim(ctx, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.runID, "run-id", "", "run id; with --resume selects the run to continue (default: newest)")
	f.BoolVar(&o.resume, "resume", false, "continue from the latest snapshot instead of starting a new run")
	f.BoolVar(&o.watch, "watch", true, "reload log level and snapshot cadence when the config file changes")
	f.StringVar(&o.traceOut, "trace-out", "", "write traced agent histories (sim.trace_agents) as JSON to this file")
	return cmd
}

func runSim(ctx context.Context, o runOptions) error {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(level))

	runID := o.runID
	if !o.resume && runID == "" {
		runID = uuid.NewString()
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		RunID:          runID,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	slog.Info("fpsim starting",
		"version", version,
		"config", o.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"snapshot_driver", cfg.Snapshot.Driver,
		"resume", o.resume,
	)

	opts := []app.Option{app.WithLevelVar(level)}
	if o.resume {
		opts = append(opts, app.WithResume(o.runID))
	} else {
		opts = append(opts, app.WithRunID(runID))
	}
	if o.watch {
		opts = append(opts, app.WithConfigWatch(o.configPath))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	runErr := application.Run(ctx)

	if o.traceOut != "" {
		if err := writeTrace(o.traceOut, application); err != nil {
			slog.Warn("failed to write agent trace", "path", o.traceOut, "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	switch {
	case runErr == nil:
		slog.Info("run complete", "run_id", application.Sim().RunID())
		return nil
	case errors.Is(runErr, context.Canceled):
		slog.Info("run interrupted; continue it with --resume",
			"run_id", application.Sim().RunID(),
			"step", application.Sim().Step(),
		)
		return nil
	default:
		return runErr
	}
}

func writeTrace(path string, a *app.App) error {
	rec := a.Sim().Recorder()
	if rec == nil {
		return errors.New("sim.trace_agents is 0; nothing was traced")
	}
	data, err := json.MarshalIndent(rec.Histories(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func inspectCmd(configPath *string) *cobra.Command {
	var (
		runID string
		list  bool
		runs  bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarise the latest snapshot of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(levelVar(config.LogWarn)))

			if runs {
				if cfg.Snapshot.JournalPath == "" {
					return errors.New("snapshot.journal_path is not configured")
				}
				records, err := runlog.Read(cfg.Snapshot.JournalPath, runID)
				if err != nil {
					slog.Warn("journal has unreadable lines", "err", err)
				}
				return listRuns(cmd.OutOrStdout(), records)
			}

			ctx := cmd.Context()
			store, err := app.OpenStore(ctx, cfg.Snapshot, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			if list {
				return listSnapshots(ctx, cmd.OutOrStdout(), store, runID)
			}
			return describeLatest(ctx, cmd.OutOrStdout(), store, runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to inspect (default: newest snapshot of any run)")
	cmd.Flags().BoolVar(&list, "list", false, "list stored snapshots instead of summarising the latest")
	cmd.Flags().BoolVar(&runs, "runs", false, "list journalled run invocations")
	return cmd
}

func listSnapshots(ctx context.Context, w io.Writer, store snapshot.Store, runID string) error {
	metas, err := store.List(ctx, runID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTEP\tSIZE\tCREATED")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", m.RunID, m.Step, m.Size, m.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func listRuns(w io.Writer, records []runlog.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSTEPS\tALIVE\tSTARTED\tDURATION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d-%d/%d\t%d/%d\t%s\t%s\n",
			r.RunID, r.Status, r.StartStep, r.EndStep, r.Steps, r.Alive, r.Agents,
			r.StartedAt.Format(time.RFC3339), r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}

func describeLatest(ctx context.Context, w io.Writer, store snapshot.Store, runID string) error {
	e, err := store.Latest(ctx, runID)
	if err != nil {
		return err
	}
	p, err := people.Restore(e.People)
	if err != nil {
		return err
	}
	alive, err := p.NumAlive()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run %s  step %d  seed %d  saved %s\n", e.RunID, e.Step, e.Seed, e.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "agents %d  alive %d\n\n", p.Len(), alive)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tKIND\tCOUNT\tMEAN\tMIN\tMAX")
	for _, s := range p.Describe() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.4g\t%.4g\t%.4g\n", s.Name, s.Kind, s.Count, s.Mean, s.Min, s.Max)
	}
	return tw.Flush()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fpsim %s\n", version)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
		}
		return nil, err
	}
	return cfg, nil
}

func levelVar(l config.LogLevel) *slog.LevelVar {
	v := new(slog.LevelVar)
	v.Set(l.Level())
	return v
}

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
