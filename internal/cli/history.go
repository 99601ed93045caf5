package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/edgecycle/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Address string
	Limit   int
}

// HistoryEntry is one recorded channel value.
type HistoryEntry struct {
	RunID   string    `json:"run_id"`
	Tick    uint64    `json:"tick"`
	Time    time.Time `json:"time"`
	Value   any       `json:"value"`
	Defined bool      `json:"defined"`
}

// RunEntry is one recorded run.
type RunEntry struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	ConfigHash    string     `json:"config_hash"`
	EngineVersion string     `json:"engine_version"`
}

// Overview lists what a timedata database holds.
type Overview struct {
	Runs      []RunEntry `json:"runs"`
	Addresses []string   `json:"addresses"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <db>",
		Short: "Query recorded timedata",
		Long: `Query a timedata database written by "edgecycle run".

Without --address, lists the recorded runs and every address with
stored values. With --address, prints the most recent values of that
channel, oldest first.

Examples:
  edgecycle history edgecycle.db
  edgecycle history edgecycle.db --address battery0/Soc --limit 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", "", "channel address (component/Channel)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of values (0 = all)")

	return cmd
}

func runHistory(opts *HistoryOptions, dbPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// store.Open would create an empty database.
	if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
		return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("database not found: %s", dbPath), nil, err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil, err)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	if opts.Address == "" {
		return printOverview(ctx, formatter, st)
	}

	records, err := st.History(ctx, opts.Address, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query history", err)
	}
	if len(records) == 0 {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no values recorded for %s", opts.Address), nil, store.ErrNotFound)
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, HistoryEntry{
			RunID:   r.RunID,
			Tick:    r.Tick,
			Time:    r.Time,
			Value:   r.Value,
			Defined: r.Defined,
		})
	}
	if formatter.JSON() {
		return formatter.Success(entries)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		value := "UNDEFINED"
		if e.Defined {
			value = fmt.Sprint(e.Value)
		}
		rows = append(rows, []string{e.Time.Format(time.RFC3339Nano), strconv.FormatUint(e.Tick, 10), value})
	}
	return formatter.Table([]string{"TIME", "TICK", "VALUE"}, rows)
}

func printOverview(ctx context.Context, formatter *OutputFormatter, st *store.Store) error {
	runs, err := st.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	addresses, err := st.Addresses(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list addresses", err)
	}

	overview := Overview{Runs: make([]RunEntry, 0, len(runs)), Addresses: addresses}
	for _, r := range runs {
		entry := RunEntry{
			ID:            r.ID,
			StartedAt:     r.StartedAt,
			ConfigHash:    r.ConfigHash,
			EngineVersion: r.EngineVersion,
		}
		if !r.EndedAt.IsZero() {
			ended := r.EndedAt
			entry.EndedAt = &ended
		}
		overview.Runs = append(overview.Runs, entry)
	}
	if formatter.JSON() {
		return formatter.Success(overview)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Runs (%d):\n", len(overview.Runs))
	for _, r := range overview.Runs {
		ended := "running"
		if r.EndedAt != nil {
			ended = r.EndedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "  %s  %s .. %s  %s\n", r.ID, r.StartedAt.Format(time.RFC3339), ended, r.EngineVersion)
	}
	fmt.Fprintf(w, "Addresses (%d):\n", len(overview.Addresses))
	for _, a := range overview.Addresses {
		fmt.Fprintf(w, "  %s\n", a)
	}
	return nil
}
