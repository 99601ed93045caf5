package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/edgecycle/internal/config"
)

// ValidationResult is the JSON payload of a successful validate.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Path        string   `json:"path"`
	Hash        string   `json:"hash"`
	CycleTimeMs int      `json:"cycle_time_ms"`
	Batteries   []string `json:"batteries"`
	Meters      []string `json:"meters"`
	Controllers []string `json:"controllers"`
	Scheduler   string   `json:"scheduler"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a plant configuration",
		Long: `Validate a YAML or CUE plant configuration without starting anything.

Decodes the file (unknown keys are errors), applies defaults, checks
field constraints and cross references (battery, meter and controller
ids, scheduler windows) and prints every problem found.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid
  2 - File missing, unreadable or of unknown format`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := loadConfig(formatter, path)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Loaded %s (hash %s)", path, cfg.Hash)

	result := ValidationResult{
		Valid:       true,
		Path:        path,
		Hash:        cfg.Hash,
		CycleTimeMs: cfg.Cycle.CycleTime(),
		Scheduler:   cfg.Scheduler.Type,
		Controllers: cfg.ControllerIDs(),
	}
	for _, b := range cfg.Batteries {
		result.Batteries = append(result.Batteries, b.ID)
	}
	for _, m := range cfg.Meters {
		result.Meters = append(result.Meters, m.ID)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  cycle time:  %d ms\n", result.CycleTimeMs)
	fmt.Fprintf(w, "  batteries:   %v\n", result.Batteries)
	fmt.Fprintf(w, "  meters:      %v\n", result.Meters)
	fmt.Fprintf(w, "  controllers: %v (%s)\n", result.Controllers, result.Scheduler)
	return nil
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// loadConfig loads path and reports failures through formatter. The
// returned error carries the exit code.
func loadConfig(formatter *OutputFormatter, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		return nil, formatter.Fail(ExitFailure, ErrCodeValidation, fmt.Sprintf("%s is invalid", path), verr.Problems, err)
	case errors.Is(err, config.ErrUnsupportedFormat):
		return nil, formatter.Fail(ExitCommandError, ErrCodeFormat, err.Error(), nil, err)
	default:
		return nil, formatter.Fail(ExitCommandError, ErrCodeLoad, err.Error(), nil, err)
	}
}
