package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/exert/internal/config"
	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/events"
	"github.com/mattjoyce/exert/internal/log"
	"github.com/mattjoyce/exert/internal/ops/arith"
	"github.com/mattjoyce/exert/internal/persist"
	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/space"
	"github.com/mattjoyce/exert/internal/storage"
	"github.com/mattjoyce/exert/internal/transport"
)

// node is the set of collaborators one exert process runs with.
type node struct {
	cfg      *config.Config
	db       *sql.DB
	registry *signature.Registry
	ledger   *persist.Ledger
	values   *persist.Values
	space    *space.Space
	hub      *events.Hub
	provider *transport.Provider
	router   *transport.Router
}

// localRegistry lists the operations this binary can serve.
func localRegistry() *signature.Registry {
	reg := signature.NewRegistry()
	arith.Register(reg)
	return reg
}

// openNode opens the state database and wires the space, the local
// provider and the transport router. hub may be nil when no events are
// published.
func openNode(ctx context.Context, cfg *config.Config, hub *events.Hub) (*node, error) {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state %s: %w", cfg.State.Path, err)
	}

	n := &node{
		cfg:      cfg,
		db:       db,
		registry: localRegistry(),
		ledger:   persist.NewLedger(db),
		values:   persist.NewValues(db),
		hub:      hub,
	}

	spaceOpts := []space.Option{space.WithPollInterval(cfg.Space.PollInterval)}
	if hub != nil {
		spaceOpts = append(spaceOpts, space.WithEvents(hub))
	}
	n.space = space.New(db, spaceOpts...)

	// Routines arriving at the provider run against local operations only.
	providerOpts := []dispatch.Option{
		dispatch.WithSpace(n.space),
		dispatch.WithLogger(log.WithComponent("provider")),
	}
	var pub dispatch.Publisher
	if hub != nil {
		pub = hub
		providerOpts = append(providerOpts, dispatch.WithEvents(hub))
	}
	n.provider = transport.NewProvider(cfg.Provider.Name,
		dispatch.New(signature.NewResolver(n.registry), providerOpts...), pub)

	n.router = transport.NewRouter(
		transport.NewLocal(n.provider),
		transport.NewHTTP(endpoints(cfg), cfg.Transport.Fallback, cfg.Transport.Timeout),
	)
	return n, nil
}

func endpoints(cfg *config.Config) []transport.Endpoint {
	out := make([]transport.Endpoint, 0, len(cfg.Transport.Endpoints))
	for _, ep := range cfg.Transport.Endpoints {
		out = append(out, transport.Endpoint{Name: ep.Name, URL: ep.URL, APIKey: ep.APIKey})
	}
	return out
}

// dispatcher builds the requestor-side dispatcher. withSpace is false for
// space workers so taken entries are exerted instead of written back.
func (n *node) dispatcher(logger *slog.Logger, withSpace bool) *dispatch.Dispatcher {
	opts := []dispatch.Option{
		dispatch.WithTransport(n.router),
		dispatch.WithProvisioner(n.router),
		dispatch.WithLogger(logger),
	}
	if withSpace {
		opts = append(opts, dispatch.WithSpace(n.space))
	}
	if !n.cfg.Dispatch.DisableLedger {
		opts = append(opts, dispatch.WithRecorder(n.ledger))
	}
	if n.hub != nil {
		opts = append(opts, dispatch.WithEvents(n.hub))
	}
	return dispatch.New(signature.NewResolver(n.registry), opts...)
}

func (n *node) Close() error {
	return n.db.Close()
}
