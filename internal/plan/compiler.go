package plan

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/exert/internal/expr"
	"github.com/mattjoyce/exert/internal/strategy"
)

// ExprPrefix marks a binding value as an expression.
const ExprPrefix = "="

// CompileSpecs validates plan definitions and fingerprints them.
func CompileSpecs(specs []Spec) (*Set, error) {
	out := &Set{Plans: make(map[string]*Plan)}

	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("plans[%d]: name is required", i)
		}
		if _, exists := out.Plans[name]; exists {
			return nil, fmt.Errorf("duplicate plan name %q", name)
		}
		spec.Name = name

		compiled, err := compilePlan(spec)
		if err != nil {
			return nil, fmt.Errorf("plan %q: %w", name, err)
		}
		out.Plans[name] = compiled
	}

	if err := validateCalls(out.Plans); err != nil {
		return nil, err
	}
	return out, nil
}

func compilePlan(spec Spec) (*Plan, error) {
	if len(spec.Steps) == 0 {
		return nil, fmt.Errorf("steps must be non-empty")
	}
	if err := checkValues("context", spec.Context); err != nil {
		return nil, err
	}

	b := compileBuilder{ids: make(map[string]struct{}), called: make(map[string]struct{})}
	steps, err := b.compileSteps(spec.Steps)
	if err != nil {
		return nil, err
	}
	spec.Steps = steps

	fingerprint, err := fingerprintSpec(spec)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Name:        spec.Name,
		Spec:        spec,
		Called:      sortedMapKeys(b.called),
		Fingerprint: fingerprint,
	}, nil
}

type compileBuilder struct {
	nextAuto int
	ids      map[string]struct{}
	called   map[string]struct{}
}

// compileSteps validates steps and returns copies with every id assigned.
func (b *compileBuilder) compileSteps(steps []StepSpec) ([]StepSpec, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("steps must be non-empty")
	}
	out := make([]StepSpec, len(steps))
	for i, step := range steps {
		compiled, err := b.compileStep(step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		out[i] = compiled
	}
	return out, nil
}

func (b *compileBuilder) compileStep(step StepSpec) (StepSpec, error) {
	modeCount := 0
	for _, set := range []bool{
		strings.TrimSpace(step.Expr) != "",
		strings.TrimSpace(step.Op) != "",
		strings.TrimSpace(step.Call) != "",
		len(step.Steps) > 0,
		len(step.Parallel) > 0,
		step.Loop != nil,
		len(step.Alt) > 0,
	} {
		if set {
			modeCount++
		}
	}
	if modeCount != 1 {
		return step, fmt.Errorf("step must define exactly one of expr, op, call, steps, parallel, loop or alt")
	}

	id, err := b.allocID(step.ID)
	if err != nil {
		return step, err
	}
	step.ID = id

	if step.When != "" {
		if _, err := expr.Compile(step.When); err != nil {
			return step, fmt.Errorf("step %q: when: %w", id, err)
		}
	}
	if step.Expr == "" && step.Op == "" && (len(step.In) > 0 || step.Return != "" || step.Provider != "" || step.Deployment != nil) {
		return step, fmt.Errorf("step %q: in, return, provider and deployment apply to expr and op steps only", id)
	}
	if err := checkValues("step "+id+": in", step.In); err != nil {
		return step, err
	}
	if step.Strategy != nil && step.Strategy.Access == strategy.Pull && hasExpr(step.In) {
		return step, fmt.Errorf("step %q: expression inputs cannot be written to the space", id)
	}

	switch {
	case step.Expr != "":
		step.Expr = strings.TrimSpace(step.Expr)
		if _, err := expr.Compile(step.Expr); err != nil {
			return step, fmt.Errorf("step %q: %w", id, err)
		}
		if step.Provider != "" || step.Deployment != nil {
			return step, fmt.Errorf("step %q: expr steps run locally", id)
		}

	case step.Op != "":
		step.Op = strings.TrimSpace(step.Op)
		typ, sel, ok := strings.Cut(step.Op, ".")
		if !ok || typ == "" || sel == "" {
			return step, fmt.Errorf("step %q: op must be Type.selector (got %q)", id, step.Op)
		}
		if step.Deployment != nil && step.Provider == "" {
			return step, fmt.Errorf("step %q: deployment requires a provider", id)
		}

	case step.Call != "":
		step.Call = strings.TrimSpace(step.Call)
		b.called[step.Call] = struct{}{}

	case len(step.Steps) > 0:
		if step.Steps, err = b.compileSteps(step.Steps); err != nil {
			return step, fmt.Errorf("step %q: %w", id, err)
		}

	case len(step.Parallel) > 0:
		if step.Parallel, err = b.compileSteps(step.Parallel); err != nil {
			return step, fmt.Errorf("step %q: parallel: %w", id, err)
		}
		if err := disjointWrites(step.Parallel); err != nil {
			return step, fmt.Errorf("step %q: parallel: %w", id, err)
		}

	case step.Loop != nil:
		loop := *step.Loop
		if _, err := expr.Compile(loop.While); err != nil {
			return step, fmt.Errorf("step %q: loop.while: %w", id, err)
		}
		if loop.Steps, err = b.compileSteps(loop.Steps); err != nil {
			return step, fmt.Errorf("step %q: loop: %w", id, err)
		}
		step.Loop = &loop

	case len(step.Alt) > 0:
		alt := make([]Branch, len(step.Alt))
		for i, br := range step.Alt {
			if _, err := expr.Compile(br.If); err != nil {
				return step, fmt.Errorf("step %q: alt[%d].if: %w", id, i, err)
			}
			if br.Steps, err = b.compileSteps(br.Steps); err != nil {
				return step, fmt.Errorf("step %q: alt[%d]: %w", id, i, err)
			}
			alt[i] = br
		}
		step.Alt = alt
	}
	return step, nil
}

func (b *compileBuilder) allocID(preferred string) (string, error) {
	id := strings.TrimSpace(preferred)
	if id == "" {
		for {
			b.nextAuto++
			candidate := fmt.Sprintf("step_%d", b.nextAuto)
			if _, exists := b.ids[candidate]; !exists {
				id = candidate
				break
			}
		}
	}
	if _, exists := b.ids[id]; exists {
		return "", fmt.Errorf("duplicate step id %q", id)
	}
	b.ids[id] = struct{}{}
	return id, nil
}

func checkValues(where string, vals Values) error {
	seen := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		if v.Path == "" {
			return fmt.Errorf("%s: empty path", where)
		}
		if _, dup := seen[v.Path]; dup {
			return fmt.Errorf("%s: duplicate path %q", where, v.Path)
		}
		seen[v.Path] = struct{}{}
		if src, ok := exprSource(v.Value); ok {
			if _, err := expr.Compile(src); err != nil {
				return fmt.Errorf("%s: %s: %w", where, v.Path, err)
			}
		}
	}
	return nil
}

// disjointWrites rejects parallel siblings writing the same path; the
// join would drop it as a conflict.
func disjointWrites(steps []StepSpec) error {
	owner := make(map[string]string)
	for _, st := range steps {
		if st.Expr == "" && st.Op == "" {
			continue
		}
		paths := make([]string, 0, len(st.In)+1)
		for _, v := range st.In {
			paths = append(paths, v.Path)
		}
		if st.Return != "" {
			paths = append(paths, st.Return)
		}
		for _, p := range paths {
			if prev, ok := owner[p]; ok && prev != st.ID {
				return fmt.Errorf("steps %q and %q both write %q", prev, st.ID, p)
			}
			owner[p] = st.ID
		}
	}
	return nil
}

func hasExpr(vals Values) bool {
	for _, v := range vals {
		if _, ok := exprSource(v.Value); ok {
			return true
		}
	}
	return false
}

func exprSource(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, ExprPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(s, ExprPrefix)), true
}

func validateCalls(plans map[string]*Plan) error {
	for name, p := range plans {
		for _, called := range p.Called {
			if _, ok := plans[called]; !ok {
				return fmt.Errorf("plan %q calls unknown plan %q", name, called)
			}
		}
	}

	state := make(map[string]int)
	var walk func(name string, stack []string) error
	walk = func(name string, stack []string) error {
		switch state[name] {
		case 2:
			return nil
		case 1:
			idx := 0
			for i := range stack {
				if stack[i] == name {
					idx = i
					break
				}
			}
			cycle := append(append([]string{}, stack[idx:]...), name)
			return fmt.Errorf("plan call cycle detected: %s", strings.Join(cycle, " -> "))
		}

		state[name] = 1
		stack = append(stack, name)
		for _, dep := range plans[name].Called {
			if err := walk(dep, stack); err != nil {
				return err
			}
		}
		state[name] = 2
		return nil
	}

	names := make([]string, 0, len(plans))
	for name := range plans {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := walk(name, nil); err != nil {
			return err
		}
	}
	return nil
}

func fingerprintSpec(spec Spec) (string, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("marshal plan fingerprint input: %w", err)
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}

func sortedMapKeys(in map[string]struct{}) []string {
	out := make([]string, 0, len(in))
	for key := range in {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
