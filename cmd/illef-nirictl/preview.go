package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/illef/illef-niri/internal/engine"
	"github.com/illef/illef-niri/internal/ipc"
	"github.com/illef/illef-niri/internal/layout"
	"github.com/illef/illef-niri/internal/state"
)

// preview is what the daemon would do for the current niri state, computed
// without dispatching anything.
type preview struct {
	Socket         string           `json:"socket" yaml:"socket"`
	Focused        *state.Window    `json:"focused,omitempty" yaml:"focused,omitempty"`
	NonFloating    []uint64         `json:"nonFloating" yaml:"nonFloating"`
	QueryError     string           `json:"queryError,omitempty" yaml:"queryError,omitempty"`
	Arrange        []layout.Command `json:"arrange" yaml:"arrange"`
	Rebalance      *layout.Result   `json:"rebalance,omitempty" yaml:"rebalance,omitempty"`
	RebalanceError string           `json:"rebalanceError,omitempty" yaml:"rebalanceError,omitempty"`
	World          *state.World     `json:"world" yaml:"world"`
}

func newPreviewCmd(opts *globalOptions) *cobra.Command {
	var socket, format string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Query niri directly and show the actions the daemon would take",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (json or yaml)", format)
			}
			path := socket
			if path == "" {
				resolver := ipc.NewResolver(nil)
				found, ok := resolver.Lookup()
				if !ok {
					return fmt.Errorf("niri socket not found in %s", resolver.RuntimeDir)
				}
				path = found
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			p, err := buildPreview(ctx, path)
			if err != nil {
				return err
			}
			return writePreview(cmd.OutOrStdout(), p, format)
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "niri socket path (default: $NIRI_SOCKET or discovered)")
	cmd.Flags().StringVar(&format, "format", "yaml", "output format (json|yaml)")
	return cmd
}

func buildPreview(ctx context.Context, path string) (preview, error) {
	cli, err := ipc.DialClient(ctx, path)
	if err != nil {
		return preview{}, err
	}
	defer cli.Close()
	world, err := state.NewWorld(ctx, cli)
	if err != nil {
		return preview{}, fmt.Errorf("build world: %w", err)
	}

	p := preview{Socket: path, Focused: world.FocusedWindow(), World: world}
	if ids, err := world.NonFloatingIDs(); err != nil {
		p.QueryError = err.Error()
	} else {
		p.NonFloating = ids
		p.Arrange = engine.Arrange(ids).Commands
	}
	if res, _, err := layout.PlanRebalance(world.Windows); err != nil {
		p.RebalanceError = err.Error()
	} else {
		p.Rebalance = &res
	}
	return p, nil
}

func writePreview(w io.Writer, p preview, format string) error {
	if format == "json" {
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(p)
}
