package wire

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/exert/internal/fidelity"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
)

// ErrOpaqueCondition is returned when a condition has no expression source.
var ErrOpaqueCondition = errors.New("condition is not an expression")

// EncodeRoutine converts r and its children to wire form.
func EncodeRoutine(r routine.Routine) (Routine, error) {
	w := Routine{
		ID:        r.ID(),
		Name:      r.Name(),
		Kind:      r.Kind(),
		Executor:  r.Executor(),
		Strategy:  r.Strategy(),
		Context:   r.Context(),
		Return:    r.RequestPath(),
		Txn:       r.Txn(),
		Provider:  r.Provider(),
		Principal: r.Principal(),
		Status:    r.Status(),
	}
	f := r.SignatureFidelity()
	for _, name := range f.Names() {
		sig, _ := f.Get(name)
		w.Variants = append(w.Variants, Variant{Name: name, Signature: sig})
	}
	w.Selected = f.Selected()

	if c, ok := r.(routine.Conditional); ok {
		src := routine.Source(c.Condition())
		if src == "" {
			return Routine{}, fmt.Errorf("%s %q: %w", r.Kind(), r.Name(), ErrOpaqueCondition)
		}
		w.Condition = src
	}
	for _, child := range routine.Children(r) {
		cw, err := EncodeRoutine(child)
		if err != nil {
			return Routine{}, err
		}
		w.Children = append(w.Children, cw)
	}
	return w, nil
}

// DecodeRoutine rebuilds a routine tree. Ids, names and signature
// selection are preserved; status is reset unless keepStatus is set.
func DecodeRoutine(gen naming.Generator, w Routine, keepStatus bool) (routine.Routine, error) {
	opts := []routine.Option{
		routine.WithID(w.ID),
		routine.WithExecutor(w.Executor),
		routine.WithReturn(w.Return),
		routine.WithPrincipal(w.Principal),
	}
	if w.Context != nil {
		opts = append(opts, routine.WithContext(w.Context))
	}
	if w.Strategy != nil {
		opts = append(opts, routine.WithStrategy(w.Strategy))
	}

	children := make([]routine.Routine, 0, len(w.Children))
	for _, cw := range w.Children {
		c, err := DecodeRoutine(gen, cw, keepStatus)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}

	var r routine.Routine
	switch w.Kind {
	case routine.KindTask:
		r = routine.NewTask(gen, w.Name, opts...)
	case routine.KindJob:
		r = routine.NewJob(gen, w.Name, children, opts...)
	case routine.KindBlock:
		r = routine.NewBlock(gen, w.Name, children, opts...)
	case routine.KindPipeline:
		r = routine.NewPipeline(gen, w.Name, children, opts...)
	case routine.KindLoop, routine.KindOpt:
		if len(children) != 1 {
			return nil, fmt.Errorf("%s %q: want one body, got %d", w.Kind, w.Name, len(children))
		}
		cond, err := routine.When(w.Condition)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", w.Kind, w.Name, err)
		}
		if w.Kind == routine.KindLoop {
			r = routine.NewLoop(gen, w.Name, cond, children[0], opts...)
		} else {
			r = routine.NewOpt(gen, w.Name, cond, children[0], opts...)
		}
	case routine.KindAlt:
		options := make([]*routine.Opt, 0, len(children))
		for _, c := range children {
			o, ok := c.(*routine.Opt)
			if !ok {
				return nil, fmt.Errorf("alt %q: child %q is a %s, want opt", w.Name, c.Name(), c.Kind())
			}
			options = append(options, o)
		}
		r = routine.NewAlt(gen, w.Name, options, opts...)
	default:
		return nil, fmt.Errorf("unknown routine kind %q", w.Kind)
	}

	f := fidelity.New[signature.Signature](w.Name)
	for _, v := range w.Variants {
		f.Add(v.Name, v.Signature)
	}
	if w.Selected != "" && f.Len() > 0 {
		if _, err := f.Select(w.Selected); err != nil {
			return nil, err
		}
	}
	r.SetSignatureFidelity(f)
	r.SetTxn(w.Txn)
	r.SetProvider(w.Provider)
	if keepStatus {
		r.SetStatus(w.Status)
	}
	return r, nil
}
