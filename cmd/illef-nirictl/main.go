package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/illef/illef-niri/internal/control"
	"github.com/illef/illef-niri/internal/control/client"
)

type globalOptions struct {
	addr    string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "illef-nirictl",
		Short:         "Control a running illef-niri daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.addr, "addr", control.DefaultAddr, "daemon address (host:port or URL)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 3*time.Second, "request timeout")

	cmd.AddCommand(newChangeCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newPreviewCmd(opts))
	return cmd
}

func newChangeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "change",
		Short: "Toggle the master/slave split of the focused workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			msg, err := client.New(opts.addr).ChangeLayout(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print event counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (json or yaml)", format)
			}
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			snap, err := client.New(opts.addr).Stats(ctx)
			if err != nil {
				return err
			}
			return writeStats(cmd.OutOrStdout(), snap, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format (json|yaml)")
	return cmd
}

func (o *globalOptions) context(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if o.timeout > 0 {
		return context.WithTimeout(parent, o.timeout)
	}
	return context.WithCancel(parent)
}

func writeStats(w io.Writer, snap client.Snapshot, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode stats: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return nil
}
