package signature

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/expr"
	"github.com/mattjoyce/exert/internal/fidelity"
)

// ErrUnbound is returned when no operation is registered for a signature.
var ErrUnbound = errors.New("no operation bound")

// InvokeFunc mutates the Context in place.
type InvokeFunc func(ctx context.Context, c *data.Context) error

// EvalFunc produces a value from the Context.
type EvalFunc func(ctx context.Context, c *data.Context) (any, error)

// Operation is a registered local operation with its fixed capability.
type Operation struct {
	Capability Capability
	Invoke     InvokeFunc
	Eval       EvalFunc
}

// Registry maps type#selector to local operations.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Operation
}

func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

func opKey(typ, selector string) string { return typ + "#" + selector }

// RegisterInvoke binds typ.selector to a context-mutating operation.
func (r *Registry) RegisterInvoke(typ, selector string, fn InvokeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[opKey(typ, selector)] = Operation{Capability: Invoke, Invoke: fn}
}

// RegisterEval binds typ.selector to a value-producing operation.
func (r *Registry) RegisterEval(typ, selector string, fn EvalFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[opKey(typ, selector)] = Operation{Capability: Evaluate, Eval: fn}
}

func (r *Registry) Lookup(typ, selector string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[opKey(typ, selector)]
	return op, ok
}

// Keys returns every registered type#selector key.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ops))
	for k := range r.ops {
		out = append(out, k)
	}
	return out
}

// Target is a resolved signature ready for dispatch.
type Target struct {
	Signature  Signature
	Capability Capability
	Invoke     InvokeFunc
	Eval       EvalFunc
}

// Resolver turns signatures into targets, consulting per-type fidelities.
type Resolver struct {
	registry *Registry

	mu         sync.RWMutex
	fidelities map[string]*fidelity.Fidelity[Signature]
}

func NewResolver(reg *Registry) *Resolver {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Resolver{registry: reg, fidelities: make(map[string]*fidelity.Fidelity[Signature])}
}

func (r *Resolver) Registry() *Registry { return r.registry }

// AddFidelity registers variants for the service type named by f.
func (r *Resolver) AddFidelity(f *fidelity.Fidelity[Signature]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fidelities[f.Name()] = f
}

// Fidelity returns the variants registered for typ.
func (r *Resolver) Fidelity(typ string) (*fidelity.Fidelity[Signature], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fidelities[typ]
	return f, ok
}

// Resolve picks the variant selected for the signature's type, if any, and
// binds it to an executable target.
func (r *Resolver) Resolve(sig Signature) (Target, error) {
	if f, ok := r.Fidelity(sig.Type); ok && f.Len() > 0 {
		sig = f.Current()
	}

	if sig.IsNet() || sig.Capability == Remote {
		return Target{Signature: sig, Capability: Remote}, nil
	}

	if sig.Type == ExprType {
		e, err := expr.Compile(sig.Selector)
		if err != nil {
			return Target{}, fmt.Errorf("resolve %s: %w", sig, err)
		}
		eval := data.Evaluable(e)
		return Target{
			Signature:  sig,
			Capability: Evaluate,
			Eval: func(ctx context.Context, c *data.Context) (any, error) {
				return eval.Evaluate(ctx, c)
			},
		}, nil
	}

	op, ok := r.registry.Lookup(sig.Type, sig.Selector)
	if !ok {
		return Target{}, fmt.Errorf("resolve %s: %w", sig, ErrUnbound)
	}
	return Target{Signature: sig, Capability: op.Capability, Invoke: op.Invoke, Eval: op.Eval}, nil
}
