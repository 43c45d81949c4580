package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/exert/internal/api"
	"github.com/mattjoyce/exert/internal/auth"
	"github.com/mattjoyce/exert/internal/config"
	"github.com/mattjoyce/exert/internal/events"
	"github.com/mattjoyce/exert/internal/lock"
	"github.com/mattjoyce/exert/internal/log"
	"github.com/mattjoyce/exert/internal/space"
)

const eventBuffer = 256

func newServeCmd(opts *cliOptions) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run this node's provider API",
		Long: `Serve the provider API on provider.listen. Remote requestors exert
routines against this node's operations, provision deployments, and
follow the event stream.

With --worker the node also processes PULL entries from its space.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", false, "Also run a space worker in this process")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, withWorker bool) error {
	logger := log.WithComponent("main")
	logger.Info("exert starting", "version", version, "provider", cfg.Provider.Name)

	pidLock, err := lock.AcquirePIDLock(lock.PathFor(cfg.State.Path, "serve"))
	if err != nil {
		return fmt.Errorf("another serve instance may be running: %w", err)
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	hub := events.NewHub(eventBuffer)
	n, err := openNode(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer n.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	if withWorker {
		w := space.NewWorker(n.space, n.dispatcher(log.WithComponent("space-worker"), false),
			cfg.Space.Worker, cfg.Space.TickInterval)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	server := api.New(api.Config{
		Listen:          cfg.Provider.Listen,
		APIKey:          cfg.Provider.APIKey,
		Tokens:          apiTokens(cfg.Provider.Tokens),
		MaxConcurrent:   cfg.Provider.MaxConcurrent,
		MaxExertTimeout: cfg.Provider.MaxExertTimeout,
	}, n.provider, n.dispatcher(log.WithComponent("dispatch"), true), n.ledger, hub, log.WithComponent("api"))

	logger.Info("exert running (press Ctrl+C to stop)", "listen", cfg.Provider.Listen,
		"operations", len(n.provider.Operations()))
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("exert stopped")
	return nil
}

func apiTokens(in []config.TokenConfig) []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(in))
	for _, t := range in {
		out = append(out, auth.TokenConfig{Name: t.Name, Token: t.Token, Scopes: t.Scopes})
	}
	return out
}
