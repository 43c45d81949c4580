package plan

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/expr"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/strategy"
)

// Build returns a fresh routine tree for the named plan. Routines carry
// run state, so every exertion needs its own tree.
func (s *Set) Build(gen naming.Generator, name string) (*routine.Pipeline, error) {
	p, ok := s.Plans[name]
	if !ok {
		return nil, fmt.Errorf("unknown plan %q", name)
	}
	b := &builder{set: s, gen: gen}
	return b.buildPlan(p.Spec, p.Name)
}

// builder holds the root Context of the tree being built. Sequential
// elements all run on it, so op inputs bind their expressions there.
type builder struct {
	set  *Set
	gen  naming.Generator
	root *data.Context
}

// Names returns the plan names in sorted order.
func (s *Set) Names() []string {
	names := make(map[string]struct{}, len(s.Plans))
	for n := range s.Plans {
		names[n] = struct{}{}
	}
	return sortedMapKeys(names)
}

func (b *builder) buildPlan(spec Spec, name string) (*routine.Pipeline, error) {
	amb, err := contextOf(spec.Name, spec.Context, nil)
	if err != nil {
		return nil, err
	}
	if b.root == nil {
		b.root = amb
	}
	children, err := b.buildSteps(spec.Steps)
	if err != nil {
		return nil, err
	}
	opts := []routine.Option{routine.WithContext(amb)}
	if spec.Strategy != nil {
		opts = append(opts, routine.WithStrategy(spec.Strategy.Clone()))
	}
	return routine.NewPipeline(b.gen, name, children, opts...), nil
}

func (b *builder) buildSteps(steps []StepSpec) ([]routine.Routine, error) {
	out := make([]routine.Routine, 0, len(steps))
	for _, step := range steps {
		r, err := b.buildStep(step)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *builder) buildStep(step StepSpec) (routine.Routine, error) {
	r, err := b.buildBody(step)
	if err != nil {
		return nil, err
	}
	if step.Strategy != nil && step.Op == "" {
		r.Strategy().UpdateFrom(step.Strategy)
	}
	if step.When == "" {
		return r, nil
	}
	cond, err := routine.When(step.When)
	if err != nil {
		return nil, err
	}
	return routine.NewOpt(b.gen, step.ID+".when", cond, r), nil
}

func (b *builder) buildBody(step StepSpec) (routine.Routine, error) {
	switch {
	case step.Expr != "":
		return b.buildTask(step)

	case step.Op != "":
		// The op reads only its own inputs: it runs on its own Context
		// inside a job, which merges the result back and links it by id.
		t, err := b.buildTask(step)
		if err != nil {
			return nil, err
		}
		if step.Strategy != nil {
			t.Strategy().UpdateFrom(step.Strategy)
		}
		return routine.NewJob(b.gen, step.ID+".in", []routine.Routine{t}), nil

	case step.Call != "":
		called, ok := b.set.Plans[step.Call]
		if !ok {
			return nil, fmt.Errorf("unknown plan %q", step.Call)
		}
		return b.buildPlan(called.Spec, step.ID)

	case len(step.Steps) > 0:
		children, err := b.buildSteps(step.Steps)
		if err != nil {
			return nil, err
		}
		return routine.NewPipeline(b.gen, step.ID, children), nil

	case len(step.Parallel) > 0:
		children, err := b.buildSteps(step.Parallel)
		if err != nil {
			return nil, err
		}
		return routine.NewPipeline(b.gen, step.ID, children,
			routine.WithStrategy(strategy.New().WithFlow(strategy.Parallel))), nil

	case step.Loop != nil:
		cond, err := routine.When(step.Loop.While)
		if err != nil {
			return nil, err
		}
		children, err := b.buildSteps(step.Loop.Steps)
		if err != nil {
			return nil, err
		}
		body := routine.NewPipeline(b.gen, step.ID+".body", children)
		return routine.NewLoop(b.gen, step.ID, cond, body), nil

	case len(step.Alt) > 0:
		options := make([]*routine.Opt, 0, len(step.Alt))
		for i, br := range step.Alt {
			cond, err := routine.When(br.If)
			if err != nil {
				return nil, err
			}
			children, err := b.buildSteps(br.Steps)
			if err != nil {
				return nil, err
			}
			name := fmt.Sprintf("%s.%d", step.ID, i)
			options = append(options, routine.NewOpt(b.gen, name, cond, routine.NewPipeline(b.gen, name+".body", children)))
		}
		return routine.NewAlt(b.gen, step.ID, options), nil
	}
	return nil, fmt.Errorf("empty step")
}

func (b *builder) buildTask(step StepSpec) (*routine.Task, error) {
	var sig signature.Signature
	if step.Expr != "" {
		sig = signature.Expr(step.Expr)
	} else {
		typ, sel, _ := strings.Cut(step.Op, ".")
		if step.Provider != "" {
			sig = signature.NewNet(typ, sel, step.Provider)
		} else {
			sig = signature.New(typ, sel)
		}
		if step.Deployment != nil {
			d := *step.Deployment
			sig = sig.WithDeployment(&d)
		}
	}
	if step.Return != "" {
		sig = sig.WithReturn(data.Result(step.Return))
	}

	c, err := contextOf(step.ID, step.In, b.root)
	if err != nil {
		return nil, err
	}
	return routine.NewTask(b.gen, step.ID, routine.WithSignatures(sig), routine.WithContext(c)), nil
}

// contextOf builds a Context from vals. Expression values become deferred
// entries. With a scope every path is an input and expressions bind in
// scope.
func contextOf(name string, vals Values, scope *data.Context) (*data.Context, error) {
	c := data.New(name)
	for _, v := range vals {
		var val any = expr.Normalize(v.Value)
		if src, ok := exprSource(v.Value); ok {
			e, err := data.Expr(v.Path, src)
			if err != nil {
				return nil, err
			}
			if scope != nil {
				e = e.WithScope(scope)
			}
			val = e
		}
		if scope != nil {
			c.PutIn(v.Path, val)
		} else {
			c.Put(v.Path, val)
		}
	}
	return c, nil
}
