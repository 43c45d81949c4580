package dispatch

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/fidelity"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
)

// substitute applies args to r in order. Every override is staged on copies
// first; nothing is committed unless all of them apply.
func (d *Dispatcher) substitute(r routine.Routine, args []routine.Arg) error {
	if len(args) == 0 {
		applyScope(r.Context())
		return nil
	}

	strat := r.Strategy().Clone()
	sigs := make(map[routine.Routine]*fidelity.Fidelity[signature.Signature])
	staged := func(target routine.Routine) *fidelity.Fidelity[signature.Signature] {
		f, ok := sigs[target]
		if !ok {
			f = target.SignatureFidelity().Clone()
			sigs[target] = f
		}
		return f
	}
	target := func(name string) (routine.Routine, error) {
		if name == "" || name == r.Name() {
			return r, nil
		}
		t, ok := routine.Find(r, name)
		if !ok {
			return nil, fmt.Errorf("no routine named %q", name)
		}
		return t, nil
	}

	var (
		writes   []func(*data.Context)
		rp       = r.RequestPath()
		txn      = r.Txn()
		provider = r.Provider()
	)

	for _, a := range args {
		var err error
		switch a := a.(type) {
		case routine.SetArg:
			if a.Path == "" {
				err = errors.New("empty path")
				break
			}
			writes = append(writes, func(c *data.Context) { c.Put(a.Path, a.Value) })
		case routine.ContextArg:
			if a.Context == nil {
				err = errors.New("nil context")
				break
			}
			writes = append(writes, func(c *data.Context) { c.Append(a.Context) })
		case routine.StrategyArg:
			if a.Strategy == nil {
				err = errors.New("nil strategy")
				break
			}
			strat.UpdateFrom(a.Strategy)
		case routine.OpArg:
			var t routine.Routine
			if t, err = target(a.Routine); err != nil {
				break
			}
			f := staged(t)
			if f.Has(a.Selector) {
				_, err = f.Select(a.Selector)
				break
			}
			if f.Len() == 0 {
				err = ErrNoSignature
				break
			}
			cur := f.Current()
			f.Add(f.Selected(), cur.WithSelector(a.Selector))
		case routine.FiArg:
			var t routine.Routine
			if t, err = target(a.Routine); err != nil {
				break
			}
			_, err = staged(t).Select(a.Name)
		case routine.TxnArg:
			txn = a.ID
		case routine.ProviderArg:
			provider = a.Name
		case routine.ReturnArg:
			rp = a.Path
		default:
			err = fmt.Errorf("unsupported argument %T", a)
		}
		if err != nil {
			return &fault.SubstitutionFault{Arg: a.String(), Err: err}
		}
	}

	r.Strategy().UpdateFrom(strat)
	for t, f := range sigs {
		t.SetSignatureFidelity(f)
	}
	c := r.Context()
	for _, w := range writes {
		w(c)
	}
	r.SetRequestPath(rp)
	r.SetTxn(txn)
	r.SetProvider(provider)
	applyScope(c)
	return nil
}

// applyScope fills input paths that hold no value from the Context's scope.
func applyScope(c *data.Context) {
	scope := c.Scope()
	if scope == nil {
		return
	}
	for _, p := range c.InPaths() {
		if v, _ := c.Value(p); v != nil {
			continue
		}
		if v, ok := scope.Value(p); ok {
			c.Put(p, v)
		}
	}
}
