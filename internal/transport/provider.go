// Package transport moves remote exertions between a requesting dispatcher
// and the provider that serves them, over HTTP or in process.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/log"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/strategy"
	"github.com/mattjoyce/exert/internal/wire"
)

// EventProvisioned is published when a provider accepts a deployment.
const EventProvisioned = "provider.provisioned"

// Provider serves remote exertions with a local dispatcher. The HTTP API
// and the in-process Local transport both front one.
type Provider struct {
	name       string
	dispatcher *dispatch.Dispatcher
	events     dispatch.Publisher
	gen        naming.Generator
	logger     *slog.Logger

	mu          sync.RWMutex
	deployments map[string][]signature.Deployment
}

// NewProvider creates a provider named name. Requests are executed by d,
// whose resolver holds the provider's registered operations.
func NewProvider(name string, d *dispatch.Dispatcher, events dispatch.Publisher) *Provider {
	return &Provider{
		name:        name,
		dispatcher:  d,
		events:      events,
		gen:         naming.NewSequence(),
		logger:      log.WithComponent("provider").With("provider", name),
		deployments: make(map[string][]signature.Deployment),
	}
}

func (p *Provider) Name() string { return p.name }

// Exert runs req as a local task and answers with the task's Context.
// Operation faults come back as recoverable error responses.
func (p *Provider) Exert(ctx context.Context, req *dispatch.Request) *wire.Response {
	sig := req.Signature
	sig.Locality = signature.Local
	sig.Provider = ""
	if sig.Capability == signature.Remote {
		sig.Capability = signature.CapUnset
	}

	opts := []routine.Option{
		routine.WithSignatures(sig),
		routine.WithPrincipal(req.Principal),
		routine.WithStrategy(strategy.New().WithMonitorable(p.events != nil)),
	}
	if req.Context != nil {
		opts = append(opts, routine.WithContext(req.Context))
	}
	if req.RoutineID != "" {
		opts = append(opts, routine.WithID(req.RoutineID))
	}
	task := routine.NewTask(p.gen, req.Routine, opts...)
	task.SetTxn(req.Txn)

	logger := p.logger.With("routine_id", task.ID(), "signature", sig.String())
	if _, err := p.dispatcher.Exert(ctx, task); err != nil {
		logger.Warn("remote exertion failed", "status", task.Status().String(), "error", err)
		return &wire.Response{
			Status:      wire.StatusError,
			Error:       firstFault(err),
			Recoverable: task.Status() == routine.Failed,
		}
	}
	logger.Debug("remote exertion done")
	return &wire.Response{Status: wire.StatusOK, Context: task.Context()}
}

// Provision records a deployment. Re-provisioning the same id replaces
// the recorded deployments.
func (p *Provider) Provision(_ context.Context, deploymentID string, deployments []signature.Deployment) error {
	if deploymentID == "" {
		return fmt.Errorf("deployment id is empty")
	}
	for i, d := range deployments {
		if d.Name == "" {
			return fmt.Errorf("deployment %d of %s has no name", i, deploymentID)
		}
	}
	p.mu.Lock()
	p.deployments[deploymentID] = append([]signature.Deployment(nil), deployments...)
	p.mu.Unlock()

	p.logger.Info("deployment provisioned", "deployment_id", deploymentID, "count", len(deployments))
	if p.events != nil {
		p.events.Publish(EventProvisioned, map[string]any{
			"provider":      p.name,
			"deployment_id": deploymentID,
			"deployments":   deployments,
		})
	}
	return nil
}

// Deployment returns what was provisioned under id.
func (p *Provider) Deployment(id string) ([]signature.Deployment, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.deployments[id]
	return append([]signature.Deployment(nil), d...), ok
}

// DeploymentIDs lists provisioned deployment ids in sorted order.
func (p *Provider) DeploymentIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.deployments))
	for id := range p.deployments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Operations lists the type#selector keys the provider can serve, sorted.
func (p *Provider) Operations() []string {
	keys := p.dispatcher.Resolver().Registry().Keys()
	sort.Strings(keys)
	return keys
}

func firstFault(err error) string {
	var rf *fault.RoutineFault
	if errors.As(err, &rf) {
		if trace := rf.Trace(); len(trace) > 0 {
			return trace[0].Error()
		}
		if rf.Err != nil {
			return rf.Err.Error()
		}
	}
	return err.Error()
}

// fromResponse turns a provider response into a Transport result. A
// recoverable error becomes a fault.Failure so the caller ends FAILED.
func fromResponse(provider string, resp *wire.Response) (*data.Context, error) {
	if resp.Status == wire.StatusOK {
		return resp.Context, nil
	}
	if resp.Recoverable {
		return nil, &fault.Failure{Msg: "provider " + provider, Err: errors.New(resp.Error)}
	}
	return nil, fmt.Errorf("provider %s: %s", provider, resp.Error)
}
