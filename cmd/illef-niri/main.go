package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/illef/illef-niri/internal/config"
	"github.com/illef/illef-niri/internal/control"
	"github.com/illef/illef-niri/internal/engine"
	"github.com/illef/illef-niri/internal/ipc"
	"github.com/illef/illef-niri/internal/metrics"
	"github.com/illef/illef-niri/internal/util"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := config.Default()
	cmd := &cobra.Command{
		Use:          "illef-niri",
		Short:        "Keep niri windows centered and split",
		Long:         "Listens to the niri event stream, centers a lone window at two thirds width, splits two windows evenly and serves an HTTP endpoint that toggles a master/slave split.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}
	opts.BindFlags(cmd.Flags())
	return cmd
}

func run(parent context.Context, opts config.Options) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := util.NewLogger(util.ParseLogLevel(opts.LogLevel))
	collector := metrics.NewCollector(opts.Stats)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			logger.Infof("received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	resolver := ipc.NewResolver(logger.With("resolver"))
	resolver.Explicit = opts.Socket
	resolver.Interval = opts.SocketPoll
	path, err := resolver.Resolve(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("resolve niri socket: %w", err)
	}
	logger.Infof("using niri socket %s", path)

	eng := engine.ForSocket(path, logger.With("engine"), collector, opts.ExcludedApps)
	srv := control.NewServer(opts.Listen, control.SocketRebalancer{Path: path}, collector, logger.With("control"))
	if _, err := srv.Listen(); err != nil {
		return err
	}

	engineErr := make(chan error, 1)
	serverErr := make(chan error, 1)
	go func() { engineErr <- eng.Run(ctx) }()
	go func() { serverErr <- srv.Serve(ctx) }()

	// Only a lost event stream takes the process down. A reactor that never
	// got streaming leaves the control endpoint serving.
	engineDone := engineErr
	for engineDone != nil {
		select {
		case err := <-engineDone:
			engineDone = nil
			if errors.Is(err, engine.ErrStreamLost) {
				logger.Errorf("engine exited: %v", err)
				cancel()
				<-serverErr
				return fmt.Errorf("engine exited: %w", err)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("layout automation stopped: %v", err)
			}
		case err := <-serverErr:
			cancel()
			<-engineErr
			if err != nil {
				logger.Errorf("control server exited: %v", err)
				return fmt.Errorf("control server exited: %w", err)
			}
			logger.Infof("stopped")
			return nil
		}
	}
	if err := <-serverErr; err != nil {
		logger.Errorf("control server exited: %v", err)
		return fmt.Errorf("control server exited: %w", err)
	}
	logger.Infof("stopped")
	return nil
}
