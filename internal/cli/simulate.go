package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/edgecycle/internal/clock"
	"github.com/roach88/edgecycle/internal/plant"
	"github.com/roach88/edgecycle/internal/simulator"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Start    string        // RFC 3339; default today's UTC midnight
	Duration time.Duration // overrides simulation.duration
	Step     time.Duration // overrides simulation.step
	Collect  []string      // overrides simulation.collect
}

// SimulationRow is one sample in the simulate output.
type SimulationRow struct {
	Time   time.Time      `json:"time"`
	Values map[string]any `json:"values"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <config>",
		Short: "Run the plant on simulated time",
		Long: `Run the configured plant as fast as possible on a leap clock.

Every cycle advances simulated time by the step; the collected channels
are sampled after each process image freeze. Unset values are omitted
from a row.

Examples:
  edgecycle simulate plant.yaml
  edgecycle simulate plant.yaml --duration 6h --step 1m --collect battery0/Soc
  edgecycle simulate plant.yaml --start 2026-01-01T00:00:00Z --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "simulated start time (RFC 3339)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "simulated duration")
	cmd.Flags().DurationVar(&opts.Step, "step", 0, "simulated time per cycle")
	cmd.Flags().StringSliceVar(&opts.Collect, "collect", nil, "channel addresses to sample")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	start := time.Now().UTC().Truncate(24 * time.Hour)
	if opts.Start != "" {
		t, err := time.Parse(time.RFC3339, opts.Start)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --start", err)
		}
		start = t
	}

	cfg, err := loadConfig(formatter, path)
	if err != nil {
		return err
	}
	req := simulator.Request{
		End:     start.Add(cfg.Simulation.Duration.Std()),
		Step:    cfg.Simulation.Step.Std(),
		Collect: cfg.Simulation.Collect,
	}
	if opts.Duration > 0 {
		req.End = start.Add(opts.Duration)
	}
	if opts.Step > 0 {
		req.Step = opts.Step
	}
	if len(opts.Collect) > 0 {
		req.Collect = opts.Collect
	}

	leap := clock.NewLeap(start)
	p, err := plant.Build(cfg, plant.WithClock(leap), plant.WithLogger(logger), plant.WithSynchronousIO())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build plant", err)
	}
	sim, err := simulator.NewSimulation(p.Cycle, p.Registry, leap, req, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid simulation", err)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- p.Serve(ctx) }()

	if err := sim.Begin(); err != nil {
		return WrapExitError(ExitFailure, "failed to start simulation", err)
	}
	waitErr := sim.Wait(ctx)
	cancel()
	if err := <-served; err != nil {
		return WrapExitError(ExitFailure, "simulation failed", err)
	}
	if waitErr != nil {
		return WrapExitError(ExitFailure, "simulation interrupted", waitErr)
	}
	formatter.VerboseLog("Simulated %s in %d cycles", req.End.Sub(start), p.Cycle.Ticks())

	rows := make([]SimulationRow, 0)
	for _, r := range sim.Rows() {
		rows = append(rows, SimulationRow{Time: r.Time, Values: r.Values})
	}
	if formatter.JSON() {
		return formatter.Success(rows)
	}

	header := append([]string{"TIME"}, req.Collect...)
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		line := []string{r.Time.Format(time.RFC3339)}
		for _, addr := range req.Collect {
			v, ok := r.Values[addr]
			if !ok {
				line = append(line, "-")
				continue
			}
			line = append(line, fmt.Sprint(v))
		}
		table = append(table, line)
	}
	return formatter.Table(header, table)
}
