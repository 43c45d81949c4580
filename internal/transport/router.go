package transport

import (
	"context"
	"fmt"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/signature"
)

// Router sends requests for in-process providers through a Local transport
// and everything else over HTTP. Either side may be nil.
type Router struct {
	local  *Local
	remote *HTTP
}

var (
	_ dispatch.Transport   = (*Router)(nil)
	_ dispatch.Provisioner = (*Router)(nil)
)

func NewRouter(local *Local, remote *HTTP) *Router {
	return &Router{local: local, remote: remote}
}

func (r *Router) Send(ctx context.Context, req *dispatch.Request) (*data.Context, error) {
	t, err := r.route(req.Signature.Provider)
	if err != nil {
		return nil, err
	}
	return t.Send(ctx, req)
}

// Provision provisions the deployment on both sides.
func (r *Router) Provision(ctx context.Context, deploymentID string, deployments []signature.Deployment) error {
	if r.local != nil {
		if err := r.local.Provision(ctx, deploymentID, deployments); err != nil {
			return err
		}
	}
	if r.remote != nil {
		if err := r.remote.Provision(ctx, deploymentID, deployments); err != nil {
			return err
		}
	}
	return nil
}

// route picks the side serving provider. Unnamed providers go to the
// remote fallback when endpoints are configured.
func (r *Router) route(provider string) (dispatch.Transport, error) {
	switch {
	case r.local != nil && r.local.Has(provider):
		return r.local, nil
	case r.remote != nil && r.remote.Has(provider):
		return r.remote, nil
	case provider == "" || provider == signature.AnyProvider:
		if r.remote != nil && len(r.remote.endpoints) > 0 {
			return r.remote, nil
		}
		if r.local != nil && len(r.local.providers) > 0 {
			return r.local, nil
		}
	}
	return nil, fmt.Errorf("provider %q: %w", provider, ErrUnknownProvider)
}
