package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/exert/internal/lock"
	"github.com/mattjoyce/exert/internal/log"
	"github.com/mattjoyce/exert/internal/space"
)

func newWorkerCmd(opts *cliOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process PULL entries from the shared space",
		Long: `Take routines written to the space by PULL exertions, exert them on
this node and write their results back. Entries left taken by a worker
that died are released on start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if name != "" {
				cfg.Space.Worker = name
			}
			logger := log.WithComponent("main").With("worker", cfg.Space.Worker)

			pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.State.Path, "worker-"+cfg.Space.Worker))
			if err != nil {
				return fmt.Errorf("worker %s may already be running: %w", cfg.Space.Worker, err)
			}
			defer pidLock.Release()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := openNode(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer n.Close()

			w := space.NewWorker(n.space, n.dispatcher(log.WithComponent("space-worker"), false),
				cfg.Space.Worker, cfg.Space.TickInterval)
			if err := w.Start(ctx); err != nil {
				return err
			}
			logger.Info("worker running (press Ctrl+C to stop)")
			<-ctx.Done()
			w.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Worker name (overrides space.worker)")
	return cmd
}
