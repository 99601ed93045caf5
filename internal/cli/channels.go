package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/edgecycle/internal/plant"
)

// ChannelInfo describes one registered channel.
type ChannelInfo struct {
	Address string `json:"address"`
	Type    string `json:"type"`
	Unit    string `json:"unit,omitempty"`
	Access  string `json:"access"`
	Text    string `json:"text,omitempty"`
}

// NewChannelsCommand creates the channels command.
func NewChannelsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels <config>",
		Short: "List every channel a configuration registers",
		Long: `Build the configured plant without starting it and list every
channel address with its type, unit and access mode, in registration
(and therefore freeze) order.

Examples:
  edgecycle channels plant.yaml
  edgecycle channels plant.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannels(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runChannels(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := loadConfig(formatter, path)
	if err != nil {
		return err
	}
	p, err := plant.Build(cfg,
		plant.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		plant.WithSynchronousIO(),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build plant", err)
	}

	var infos []ChannelInfo
	for _, ch := range p.Registry.Channels() {
		id := ch.ID()
		infos = append(infos, ChannelInfo{
			Address: ch.Address().String(),
			Type:    id.Type.String(),
			Unit:    string(id.Unit),
			Access:  id.Access.String(),
			Text:    id.Text,
		})
	}

	if formatter.JSON() {
		return formatter.Success(infos)
	}
	rows := make([][]string, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, []string{info.Address, info.Type, info.Unit, info.Access, info.Text})
	}
	return formatter.Table([]string{"ADDRESS", "TYPE", "UNIT", "ACCESS", "DESCRIPTION"}, rows)
}
