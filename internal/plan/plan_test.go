package plan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/ops/arith"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/transport"
)

const plansYAML = `
plans:
  - name: double-plus
    context:
      x: 10
    steps:
      - id: a
        expr: x * 2
        return: y
      - id: b
        expr: y + 5
        return: z

  - name: scaled
    context:
      x: 10
    steps:
      - id: double
        expr: x * 2
        return: y
      - id: times
        op: Arith.multiply
        in:
          arg/x1: "=y"
          arg/x2: 3
        return: w
      - id: minus
        op: Arith.subtract
        in:
          arg/a: "=w"
          arg/b: "=x"
        return: v

  - name: count
    context:
      count: 0
    steps:
      - id: loop
        loop:
          while: count < 3
          steps:
            - expr: count + 1
              return: count

  - name: classify
    context:
      x: 7
    steps:
      - id: pick
        alt:
          - if: x > 10
            steps:
              - expr: '"big"'
                return: size
          - if: x <= 10
            steps:
              - expr: '"small"'
                return: size
      - id: maybe
        when: x > 100
        expr: x * 100
        return: huge

  - name: add-five
    steps:
      - expr: y + 5
        return: z

  - name: caller
    context:
      y: 1
    steps:
      - id: sub
        call: add-five

  - name: fan
    context:
      x: 2
    steps:
      - id: both
        parallel:
          - id: sq
            expr: x * x
            return: sq
          - id: dbl
            op: Arith.add
            in:
              arg/a: "=x"
              arg/b: "=x"
            return: dbl
`

func loadSet(t *testing.T) *Set {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(plansYAML), 0644))
	set, err := LoadFiles(path)
	require.NoError(t, err)
	return set
}

func localDispatcher() *dispatch.Dispatcher {
	reg := signature.NewRegistry()
	arith.Register(reg)
	return dispatch.New(signature.NewResolver(reg))
}

func exert(t *testing.T, d *dispatch.Dispatcher, set *Set, name string) *routine.Pipeline {
	t.Helper()
	p, err := set.Build(naming.NewSequence(), name)
	require.NoError(t, err)
	_, err = d.Exert(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, routine.Done, p.Status())
	return p
}

func value(t *testing.T, r routine.Routine, path string) any {
	t.Helper()
	v, err := r.Context().Get(context.Background(), path)
	require.NoError(t, err)
	return v
}

func TestPlanThreadsAmbientContext(t *testing.T) {
	set := loadSet(t)
	d := localDispatcher()

	for i := 0; i < 2; i++ {
		p := exert(t, d, set, "double-plus")
		assert.Equal(t, int64(20), value(t, p, "y"))
		assert.Equal(t, int64(25), value(t, p, "z"))
	}
}

func TestOpStepsReadOnlyTheirOwnInputs(t *testing.T) {
	p := exert(t, localDispatcher(), loadSet(t), "scaled")
	assert.Equal(t, int64(60), value(t, p, "w"))
	assert.Equal(t, int64(50), value(t, p, "v"))
	assert.Equal(t, int64(60), value(t, p, "times/w"))
}

func TestLoopStep(t *testing.T) {
	p := exert(t, localDispatcher(), loadSet(t), "count")
	assert.Equal(t, int64(3), value(t, p, "count"))
}

func TestAltAndWhen(t *testing.T) {
	p := exert(t, localDispatcher(), loadSet(t), "classify")
	assert.Equal(t, "small", value(t, p, "size"))
	assert.False(t, p.Context().Has("huge"))
}

func TestCallInlinesPlan(t *testing.T) {
	p := exert(t, localDispatcher(), loadSet(t), "caller")
	assert.Equal(t, int64(6), value(t, p, "z"))
	_, ok := routine.Find(p, "sub")
	assert.True(t, ok)
}

func TestParallelStep(t *testing.T) {
	p := exert(t, localDispatcher(), loadSet(t), "fan")
	assert.Equal(t, int64(4), value(t, p, "sq"))
	assert.Equal(t, int64(4), value(t, p, "dbl"))
}

func TestRemoteOpResolvesExpressionInputs(t *testing.T) {
	set, err := CompileSpecs([]Spec{{
		Name:    "remote",
		Context: Values{{Path: "x", Value: 4}},
		Steps: []StepSpec{{
			ID:       "r",
			Op:       "Arith.multiply",
			Provider: "calc-1",
			In:       Values{{Path: "arg/a", Value: "=x"}, {Path: "arg/b", Value: 5}},
			Return:   "out",
		}},
	}})
	require.NoError(t, err)

	provider := transport.NewProvider("calc-1", localDispatcher(), nil)
	d := dispatch.New(nil, dispatch.WithTransport(transport.NewLocal(provider)))
	p := exert(t, d, set, "remote")
	assert.Equal(t, int64(20), value(t, p, "out"))
}

func TestBuildReturnsFreshTrees(t *testing.T) {
	set := loadSet(t)
	a, err := set.Build(nil, "double-plus")
	require.NoError(t, err)
	b, err := set.Build(nil, "double-plus")
	require.NoError(t, err)
	assert.NotSame(t, a.Context(), b.Context())

	_, err = set.Build(nil, "missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"add-five", "caller", "classify", "count", "double-plus", "fan", "scaled"}, set.Names())
}

func TestCompileSpecsErrors(t *testing.T) {
	expr := func(id, src string) StepSpec { return StepSpec{ID: id, Expr: src} }
	tests := []struct {
		name  string
		specs []Spec
		want  string
	}{
		{
			name:  "missing name",
			specs: []Spec{{Steps: []StepSpec{expr("a", "1")}}},
			want:  "name is required",
		},
		{
			name:  "duplicate plan",
			specs: []Spec{{Name: "p", Steps: []StepSpec{expr("a", "1")}}, {Name: "p", Steps: []StepSpec{expr("a", "1")}}},
			want:  "duplicate plan name",
		},
		{
			name:  "no steps",
			specs: []Spec{{Name: "p"}},
			want:  "steps must be non-empty",
		},
		{
			name:  "two modes",
			specs: []Spec{{Name: "p", Steps: []StepSpec{{Expr: "1", Op: "Arith.add"}}}},
			want:  "exactly one of",
		},
		{
			name:  "duplicate step id",
			specs: []Spec{{Name: "p", Steps: []StepSpec{expr("a", "1"), expr("a", "2")}}},
			want:  "duplicate step id",
		},
		{
			name:  "bad expression",
			specs: []Spec{{Name: "p", Steps: []StepSpec{expr("a", "x +")}}},
			want:  "step \"a\"",
		},
		{
			name:  "bad op",
			specs: []Spec{{Name: "p", Steps: []StepSpec{{ID: "a", Op: "add"}}}},
			want:  "Type.selector",
		},
		{
			name:  "deployment without provider",
			specs: []Spec{{Name: "p", Steps: []StepSpec{{ID: "a", Op: "Arith.add", Deployment: &signature.Deployment{Name: "arith"}}}}},
			want:  "requires a provider",
		},
		{
			name:  "unknown call",
			specs: []Spec{{Name: "p", Steps: []StepSpec{{ID: "a", Call: "q"}}}},
			want:  "unknown plan",
		},
		{
			name: "call cycle",
			specs: []Spec{
				{Name: "p", Steps: []StepSpec{{ID: "a", Call: "q"}}},
				{Name: "q", Steps: []StepSpec{{ID: "b", Call: "p"}}},
			},
			want: "cycle",
		},
		{
			name: "parallel writes overlap",
			specs: []Spec{{Name: "p", Steps: []StepSpec{{ID: "par", Parallel: []StepSpec{
				{ID: "a", Expr: "1", Return: "y"},
				{ID: "b", Expr: "2", Return: "y"},
			}}}}},
			want: "both write",
		},
		{
			name:  "bad input expression",
			specs: []Spec{{Name: "p", Steps: []StepSpec{{ID: "a", Op: "Arith.add", In: Values{{Path: "arg/a", Value: "=("}}}}}},
			want:  "arg/a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileSpecs(tt.specs)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q does not mention %q", err, tt.want)
		})
	}
}

func TestFingerprintTracksSpec(t *testing.T) {
	spec := Spec{Name: "p", Steps: []StepSpec{{Expr: "x + 1", Return: "y"}}}
	a, err := CompileSpecs([]Spec{spec})
	require.NoError(t, err)
	b, err := CompileSpecs([]Spec{spec})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Plans["p"].Fingerprint, "blake3:"))
	assert.Equal(t, a.Plans["p"].Fingerprint, b.Plans["p"].Fingerprint)
	assert.Equal(t, "step_1", a.Plans["p"].Spec.Steps[0].ID)

	spec.Steps = []StepSpec{{Expr: "x + 2", Return: "y"}}
	c, err := CompileSpecs([]Spec{spec})
	require.NoError(t, err)
	assert.NotEqual(t, a.Plans["p"].Fingerprint, c.Plans["p"].Fingerprint)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(plansYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	set, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, set.Plans, 7)
	assert.Equal(t, []string{filepath.Join(dir, "b.yaml")}, set.Files)

	empty, err := LoadDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, empty.Plans)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("plans: [\n"), 0644))
	_, err = LoadDir(dir)
	assert.Error(t, err)
}

func TestValuesKeepOrder(t *testing.T) {
	set := loadSet(t)
	in := set.Plans["scaled"].Spec.Steps[1].In
	require.Len(t, in, 2)
	assert.Equal(t, "arg/x1", in[0].Path)
	assert.Equal(t, "arg/x2", in[1].Path)
}

func TestWalkStepsVisitsNested(t *testing.T) {
	set := loadSet(t)
	var ids []string
	WalkSteps(set.Plans["classify"].Spec.Steps, func(st StepSpec) { ids = append(ids, st.ID) })
	assert.Equal(t, []string{"pick", "step_1", "step_2", "maybe"}, ids)
}
