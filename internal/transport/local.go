package transport

import (
	"context"
	"fmt"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/signature"
)

// Local delivers remote exertions to in-process providers. Requests cross
// the same envelope boundary as HTTP: the provider sees a clone of the
// request Context and the caller gets the provider's Context back.
type Local struct {
	providers map[string]*Provider
	fallback  string
}

var (
	_ dispatch.Transport   = (*Local)(nil)
	_ dispatch.Provisioner = (*Local)(nil)
)

// NewLocal routes requests by provider name. The first provider is used
// for signatures naming no provider or ANY.
func NewLocal(providers ...*Provider) *Local {
	l := &Local{providers: make(map[string]*Provider, len(providers))}
	for i, p := range providers {
		if i == 0 {
			l.fallback = p.Name()
		}
		l.providers[p.Name()] = p
	}
	return l
}

func (l *Local) Send(ctx context.Context, req *dispatch.Request) (*data.Context, error) {
	p, err := l.provider(req.Signature.Provider)
	if err != nil {
		return nil, err
	}
	in := *req
	if req.Context != nil {
		in.Context = req.Context.Clone()
	}
	return fromResponse(p.Name(), p.Exert(ctx, &in))
}

// Provision provisions the deployment on every provider.
func (l *Local) Provision(ctx context.Context, deploymentID string, deployments []signature.Deployment) error {
	for _, p := range l.providers {
		if err := p.Provision(ctx, deploymentID, deployments); err != nil {
			return fmt.Errorf("provider %s: %w", p.Name(), err)
		}
	}
	return nil
}

func (l *Local) provider(name string) (*Provider, error) {
	if name == "" || name == signature.AnyProvider {
		name = l.fallback
	}
	p, ok := l.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, ErrUnknownProvider)
	}
	return p, nil
}

// Has reports whether a provider named name is registered.
func (l *Local) Has(name string) bool {
	_, ok := l.providers[name]
	return ok
}
