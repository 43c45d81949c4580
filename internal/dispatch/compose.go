package dispatch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/strategy"
)

// compose runs a composite's children under its flow mode.
func (d *Dispatcher) compose(ctx context.Context, r routine.Routine) error {
	switch x := r.(type) {
	case *routine.Pipeline:
		return d.runPipeline(ctx, x)
	case *routine.Block:
		return d.runBlock(ctx, x)
	case *routine.Job:
		return d.runJob(ctx, x)
	case *routine.Loop:
		return d.runLoop(ctx, x)
	case *routine.Opt:
		return d.runOpt(ctx, x)
	case *routine.Alt:
		return d.runAlt(ctx, x)
	default:
		return fmt.Errorf("unsupported composite %T", r)
	}
}

func parallel(r routine.Routine) bool {
	return r.Strategy().FlowMode() == strategy.Parallel
}

// runElement executes el against the ambient Context amb. el's own paths
// seed amb where amb has no value yet; el gets its own Context back after,
// carrying the return value it was finalized with.
func (d *Dispatcher) runElement(ctx context.Context, el routine.Routine, amb *data.Context) error {
	own := el.Context()
	if own == amb {
		return d.run(ctx, el, nil)
	}
	seed(amb, own)
	el.SetContext(amb)
	err := d.run(ctx, el, nil)
	el.SetContext(own)
	if err == nil {
		carryReturn(own, amb)
	}
	return err
}

// carryReturn finalizes own with the return value work was finalized with.
// A value that is work itself becomes own.
func carryReturn(own, work *data.Context) {
	v, ok := work.ReturnValue()
	if !ok {
		return
	}
	if vc, isCtx := v.(*data.Context); isCtx && vc == work {
		v = own
	}
	own.Finalize(v)
}

func seed(dst, src *data.Context) {
	for _, p := range src.Paths() {
		if dst.Has(p) {
			continue
		}
		v, _ := src.Value(p)
		dst.Put(p, v)
		dst.Mark(p, src.Direction(p))
	}
}

func (d *Dispatcher) runPipeline(ctx context.Context, p *routine.Pipeline) error {
	amb := p.Context()
	elements := p.Children()
	if !parallel(p) {
		for _, el := range elements {
			if err := d.runElement(ctx, el, amb); err != nil {
				return err
			}
		}
		return nil
	}

	// Each element runs on a clone of the ambient Context; writes are
	// merged back in list order.
	own := make([]*data.Context, len(elements))
	work := make([]*data.Context, len(elements))
	for i, el := range elements {
		own[i] = el.Context()
		work[i] = amb.Clone()
		seed(work[i], own[i])
		work[i].TrackWrites()
		el.SetContext(work[i])
	}
	errs := d.fanOut(ctx, p, elements)
	for i, el := range elements {
		el.SetContext(own[i])
		if errs[i] == nil {
			carryReturn(own[i], work[i])
		}
	}
	return d.join(amb, elements, work, errs)
}

func (d *Dispatcher) runBlock(ctx context.Context, b *routine.Block) error {
	bc := b.Context()
	children := b.Children()
	if !parallel(b) {
		for _, child := range children {
			cc := child.Context()
			cc.Append(bc)
			if err := d.run(ctx, child, nil); err != nil {
				return err
			}
			bc.Append(child.Context())
		}
		return nil
	}

	work := make([]*data.Context, len(children))
	for i, child := range children {
		work[i] = child.Context()
		work[i].Append(bc)
		work[i].TrackWrites()
	}
	errs := d.fanOut(ctx, b, children)
	return d.join(bc, children, work, errs)
}

func (d *Dispatcher) runJob(ctx context.Context, j *routine.Job) error {
	jc := j.Context()
	children := j.Children()
	if !parallel(j) {
		for _, child := range children {
			if err := d.run(ctx, child, nil); err != nil {
				return err
			}
			jc.Append(child.Context())
			jc.Link(child.Name(), child.Context())
		}
		return nil
	}

	work := make([]*data.Context, len(children))
	for i, child := range children {
		work[i] = child.Context()
		work[i].TrackWrites()
	}
	errs := d.fanOut(ctx, j, children)
	err := d.join(jc, children, work, errs)
	for i, child := range children {
		if errs[i] == nil {
			jc.Link(child.Name(), work[i])
		}
	}
	return err
}

// fanOut runs children concurrently, bounded by the strategy's
// MaxParallel, and returns their errors in list order. A failing sibling
// does not cancel the others.
func (d *Dispatcher) fanOut(ctx context.Context, parent routine.Routine, children []routine.Routine) []error {
	var g errgroup.Group
	if n := parent.Strategy().MaxParallel; n > 0 {
		g.SetLimit(n)
	}
	errs := make([]error, len(children))
	for i, child := range children {
		g.Go(func() error {
			errs[i] = d.run(ctx, child, nil)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// join merges the writes of successful siblings into dst in list order.
// A path written by two siblings is not merged and fails the join with a
// *fault.ConflictFault.
func (d *Dispatcher) join(dst *data.Context, children []routine.Routine, work []*data.Context, errs []error) error {
	writers := make(map[string][]string)
	var order []string
	for i, child := range children {
		if errs[i] != nil {
			continue
		}
		for _, p := range work[i].Written() {
			if _, seen := writers[p]; !seen {
				order = append(order, p)
			}
			writers[p] = append(writers[p], child.Name())
		}
	}

	var faults siblingFaults
	for i := range children {
		if errs[i] != nil {
			faults = append(faults, errs[i])
			continue
		}
		for _, p := range work[i].Written() {
			if len(writers[p]) > 1 {
				continue
			}
			v, _ := work[i].Value(p)
			dst.Put(p, v)
			dst.Mark(p, work[i].Direction(p))
		}
	}
	for _, p := range order {
		if w := writers[p]; len(w) > 1 {
			faults = append(faults, &fault.ConflictFault{Path: p, Writers: w})
		}
	}

	switch len(faults) {
	case 0:
		return nil
	case 1:
		return faults[0]
	default:
		return faults
	}
}

func (d *Dispatcher) runLoop(ctx context.Context, l *routine.Loop) error {
	amb := l.Context()
	for {
		if err := ctx.Err(); err != nil {
			return &fault.CancelledFault{Routine: l.Name(), Err: err}
		}
		ok, err := l.Condition().Holds(ctx, amb)
		if err != nil {
			return fmt.Errorf("loop condition: %w", err)
		}
		if !ok {
			return nil
		}
		if err := d.runElement(ctx, l.Body(), amb); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) runOpt(ctx context.Context, o *routine.Opt) error {
	amb := o.Context()
	ok, err := o.Condition().Holds(ctx, amb)
	if err != nil {
		return fmt.Errorf("opt condition: %w", err)
	}
	if !ok {
		return nil
	}
	return d.runElement(ctx, o.Body(), amb)
}

func (d *Dispatcher) runAlt(ctx context.Context, a *routine.Alt) error {
	amb := a.Context()
	for _, o := range a.Options() {
		ok, err := o.Condition().Holds(ctx, amb)
		if err != nil {
			return fmt.Errorf("alt condition: %w", err)
		}
		if ok {
			return d.runElement(ctx, o, amb)
		}
	}
	return nil
}
