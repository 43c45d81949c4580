package dispatch

import (
	"context"
	"strings"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
)

// requestPath is the routine's request path, falling back to the one
// declared on its signature.
func requestPath(r routine.Routine, fallback *data.RequestPath) *data.RequestPath {
	if rp := r.RequestPath(); rp != nil {
		return rp
	}
	return fallback
}

// reconcileValue writes a value result into the Context. A Context result is
// merged instead.
func (d *Dispatcher) reconcileValue(ctx context.Context, r routine.Routine, sig signature.Signature, v any) error {
	c := r.Context()
	if vc, ok := v.(*data.Context); ok {
		if vc != c {
			c.Append(vc)
		}
		return d.finalize(ctx, r, sig.Return)
	}

	rp := requestPath(r, sig.Return)
	path := DefaultReturnPath
	if rp != nil && rp.ReturnPath != "" && !rp.IsSelf() {
		path = rp.ReturnPath
	}
	c.Put(path, v)
	c.Mark(path, data.DirOut)
	if rp.IsSelf() {
		rp = data.Result(path)
	}
	return d.finalize(ctx, r, rp)
}

// finalize computes the request-path value and caches it on the Context.
func (d *Dispatcher) finalize(ctx context.Context, r routine.Routine, fallback *data.RequestPath) error {
	c := r.Context()
	c.ResetFinalized()
	rp := requestPath(r, fallback)
	v, err := rp.Extract(ctx, c)
	if err != nil {
		return err
	}
	c.Finalize(v)
	return nil
}

// ReturnValue returns r's result per its request path, or the one declared
// on its process signature. Once finalized the cached value is returned
// without touching the target again. A self request path yields the
// routine itself.
func (d *Dispatcher) ReturnValue(ctx context.Context, r routine.Routine) (any, error) {
	c := r.Context()
	v, ok := c.ReturnValue()
	if !ok {
		var fallback *data.RequestPath
		if sig, has := r.ProcessSignature(); has {
			fallback = sig.Return
		}
		if err := d.finalize(ctx, r, fallback); err != nil {
			return nil, err
		}
		v, _ = c.ReturnValue()
	}
	if vc, isCtx := v.(*data.Context); isCtx && vc == c {
		return r, nil
	}
	return v, nil
}

// Invoke drives r as a dependency: in is merged into r's Context (per link
// when the Context is linked), r is exerted, and its value is returned. The
// routine itself is never returned; a self request path yields its Context.
func (d *Dispatcher) Invoke(ctx context.Context, r routine.Routine, in *data.Context, args ...routine.Arg) (any, error) {
	if in != nil {
		mergeInto(r.Context(), in)
	}
	return d.Evaluate(ctx, r, args...)
}

// Evaluate exerts r and always yields a value. Composites yield their
// aggregated Context when no request path names a value.
func (d *Dispatcher) Evaluate(ctx context.Context, r routine.Routine, args ...routine.Arg) (any, error) {
	if _, err := d.Exert(ctx, r, args...); err != nil {
		return nil, err
	}
	v, err := d.ReturnValue(ctx, r)
	if err != nil {
		return nil, err
	}
	if rr, ok := v.(routine.Routine); ok {
		return rr.Context(), nil
	}
	return v, nil
}

// mergeInto appends in to c. Paths of the form "link/rest" whose link is
// declared on c are written into the linked Context instead.
func mergeInto(c, in *data.Context) {
	if !c.IsLinked() {
		c.Append(in)
		return
	}
	rest := data.New(in.Name())
	for _, p := range in.Paths() {
		v, _ := in.Value(p)
		if linked, sub, ok := linkFor(c, p); ok {
			linked.Put(sub, v)
			continue
		}
		rest.Put(p, v)
		rest.Mark(p, in.Direction(p))
	}
	c.Append(rest)
}

func linkFor(c *data.Context, path string) (*data.Context, string, bool) {
	for _, name := range c.Links() {
		if sub, ok := strings.CutPrefix(path, name+"/"); ok && sub != "" {
			l, _ := c.LinkedContext(name)
			return l, sub, true
		}
	}
	return nil, "", false
}

// Bind adapts r into a data.Evaluator, so a routine can back a deferred
// entry. Each evaluation invokes r with the entry's resolved arguments.
func Bind(d *Dispatcher, r routine.Routine) data.Evaluator {
	return data.EvaluatorFunc(func(ctx context.Context, in *data.Context) (any, error) {
		return d.Invoke(ctx, r, in)
	})
}
