package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/edgecycle/internal/config"
	"github.com/roach88/edgecycle/internal/events"
	"github.com/roach88/edgecycle/internal/observe"
	"github.com/roach88/edgecycle/internal/plant"
	"github.com/roach88/edgecycle/internal/store"
	"github.com/roach88/edgecycle/internal/worker"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	// NoWatch disables config hot reload.
	NoWatch bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run the configured plant",
		Long: `Build the configured plant and run the scan cycle and device bridge
until interrupted.

Cycle reports are fanned out to the Prometheus endpoint (metrics.addr)
and the timedata store (store.path) when configured. Edits to the config
file are picked up: the cycle time is applied immediately, any other
change is logged and takes effect on restart.

Signals:
  SIGINT, SIGTERM - stop gracefully
  SIGUSR1         - run the next cycle now

Example:
  edgecycle run plant.yaml
  edgecycle run plant.cue --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlant(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "do not reload the config file on change")

	return cmd
}

func runPlant(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(logger)
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("error closing report bus", "error", err)
		}
	}()

	p, err := plant.Build(cfg, plant.WithLogger(logger), plant.WithPublisher(bus))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build plant", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Store.Path != "" {
		rec, err := startRecording(gctx, cfg, bus)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open timedata store", err)
		}
		// Runs after the bus is closed (defers are LIFO), so no handler
		// writes into a closed store.
		defer rec.close(logger)
		logger.Info("recording timedata", "path", cfg.Store.Path, "run_id", rec.runID)
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := observe.NewMetrics(reg)
		if err := bus.SubscribeReports(gctx, "metrics", metrics.Observe); err != nil {
			return WrapExitError(ExitCommandError, "failed to subscribe metrics", err)
		}
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, reg, logger) })
	}

	if !opts.NoWatch {
		watcher, err := config.NewWatcher(path, newReloader(p.Cycle, cfg, logger).apply, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to watch config", err)
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(func() error { return triggerOnSignal(gctx, p.Cycle, logger) })
	g.Go(func() error { return p.Serve(gctx) })

	fmt.Fprintf(cmd.OutOrStdout(), "Plant running (%d components, cycle %d ms). Press Ctrl-C to stop.\n",
		len(p.Registry.Components()), p.Cycle.CycleTime())

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "plant stopped", err)
	}
	logger.Info("plant stopped gracefully", "ticks", p.Cycle.Ticks())
	return nil
}

type recording struct {
	store *store.Store
	runID string
}

func startRecording(ctx context.Context, cfg *config.Config, bus *events.Bus) (*recording, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	runID, err := st.BeginRun(ctx, time.Now(), cfg.Hash, Version)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	rec := observe.NewRecorder(st, runID)
	if err := bus.SubscribeReports(ctx, "recorder", rec.Record); err != nil {
		_ = st.Close()
		return nil, err
	}
	return &recording{store: st, runID: runID}, nil
}

func (r *recording) close(logger *slog.Logger) {
	if err := r.store.EndRun(context.Background(), r.runID, time.Now()); err != nil {
		logger.Error("error ending run", "run_id", r.runID, "error", err)
	}
	if err := r.store.Close(); err != nil {
		logger.Error("error closing database", "error", err)
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("serving metrics", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// cycleControl is the part of engine.Cycle the run command drives.
type cycleControl interface {
	CycleTime() int
	SetCycleTime(ms int) error
	TriggerNextCycle()
	TriggerForceRun()
}

// triggerNow runs the next cycle without waiting: it releases a cycle in
// wait-for-trigger mode and cuts the wait short otherwise.
func triggerNow(c cycleControl) {
	if c.CycleTime() == worker.AlwaysWaitForTrigger {
		c.TriggerNextCycle()
		return
	}
	c.TriggerForceRun()
}

func triggerOnSignal(ctx context.Context, c cycleControl, logger *slog.Logger) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigs:
			logger.Info("manual cycle trigger")
			triggerNow(c)
		}
	}
}

// reloader applies a reloaded configuration to a running plant.
type reloader struct {
	cycle  cycleControl
	built  *config.Config
	logger *slog.Logger
}

func newReloader(c cycleControl, built *config.Config, logger *slog.Logger) *reloader {
	return &reloader{cycle: c, built: built, logger: logger}
}

func (r *reloader) apply(next *config.Config) {
	if r.built.RestartRequired(next) {
		r.logger.Warn("config change needs a restart to take effect", "hash", next.Hash)
	}
	if err := r.cycle.SetCycleTime(next.Cycle.CycleTime()); err != nil {
		r.logger.Error("config reload: cycle time rejected", "error", err)
	}
}
