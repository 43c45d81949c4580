package discipline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/discipline"
	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
)

func multiplier() *signature.Registry {
	reg := signature.NewRegistry()
	reg.RegisterEval("Multiplier", "multiply", func(ctx context.Context, c *data.Context) (any, error) {
		a, err := c.Get(ctx, "lambdaOut")
		if err != nil {
			return nil, err
		}
		b, err := c.Get(ctx, "exprOut")
		if err != nil {
			return nil, err
		}
		return a.(float64) * b.(float64), nil
	})
	return reg
}

// conditional builds a pipeline discipline driven by a loop that re-runs
// the pipeline while lambdaOut < 500.
func conditional(gen naming.Generator) (*discipline.Discipline, *routine.Pipeline) {
	cxtn := routine.NewPipeline(gen, "cxtn1", []routine.Routine{
		routine.NewTask(gen, "lambdaOut", routine.WithSignatures(
			signature.Expr("lambdaOut + x + y + 10").WithReturn(data.Result("lambdaOut")))),
		routine.NewTask(gen, "exprOut", routine.WithSignatures(
			signature.Expr("lambdaOut - y").WithReturn(data.Result("exprOut")))),
		routine.NewTask(gen, "multiply", routine.WithSignatures(
			signature.New("Multiplier", "multiply").WithReturn(data.Result("multiply")))),
	}, routine.WithContext(data.From("mfpcr", "lambdaOut", 20.0, "x", 20.0, "y", 80.0)))

	loop := routine.NewLoop(gen, "dspt1", routine.MustWhen("lambdaOut < 500"), cxtn)
	disc := discipline.New("pln-nd").
		AddContextion("cxtn1", cxtn).
		AddDispatcher("dspt1", loop)
	return disc, cxtn
}

func TestConditionalPipelineDiscipline(t *testing.T) {
	ctx := context.Background()
	d := dispatch.New(signature.NewResolver(multiplier()))
	disc, _ := conditional(naming.NewSequence())

	out, err := disc.Evaluate(ctx, d, nil)
	require.NoError(t, err)

	for path, want := range map[string]float64{"lambdaOut": 570, "exprOut": 490, "multiply": 279300} {
		v, err := out.Get(ctx, path)
		require.NoError(t, err, path)
		assert.InDelta(t, want, v, 1e-9, path)
	}

	// A second evaluation starts again from the contextion's data.
	out, err = disc.Evaluate(ctx, d, nil)
	require.NoError(t, err)
	v, err := out.Get(ctx, "lambdaOut")
	require.NoError(t, err)
	assert.InDelta(t, 570.0, v, 1e-9)
}

func TestDisciplineWithoutDispatcherRunsContextion(t *testing.T) {
	ctx := context.Background()
	d := dispatch.New(signature.NewResolver(multiplier()))
	_, cxtn := conditional(naming.NewSequence())
	disc := discipline.New("once").AddContextion("cxtn1", cxtn)

	out, err := disc.Evaluate(ctx, d, data.From("in", "lambdaOut", 0.0))
	require.NoError(t, err)
	v, err := out.Get(ctx, "lambdaOut")
	require.NoError(t, err)
	assert.InDelta(t, 110.0, v, 1e-9)
}

func TestEmptyDiscipline(t *testing.T) {
	_, err := discipline.New("empty").Evaluate(context.Background(), dispatch.New(nil), nil)
	assert.ErrorIs(t, err, discipline.ErrNoContextion)
}

func TestDesignEvaluateRunsRolesInOrder(t *testing.T) {
	ctx := context.Background()
	d := dispatch.New(signature.NewResolver(multiplier()))
	disc, _ := conditional(naming.NewSequence())

	var order []string
	design := discipline.NewDesign("design", disc, d,
		discipline.WithIntent(data.From("intent", "x", 20.0)),
		discipline.WithInitializer("start-high", discipline.InitializerFunc(func(_ context.Context, in *data.Context) error {
			order = append(order, "initialize")
			in.Put("lambdaOut", 400.0)
			return nil
		})),
		discipline.WithFinalizer("summary", discipline.FinalizerFunc(func(ctx context.Context, result, out *data.Context) error {
			order = append(order, "finalize")
			v, err := result.Get(ctx, "multiply")
			if err != nil {
				return err
			}
			out.Put("objective", v)
			return nil
		})),
	)

	out, err := design.Evaluate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"initialize", "finalize"}, order)
	assert.Equal(t, []string{"objective"}, out.Paths())
	// 400 -> 510; exprOut 430.
	v, err := out.Get(ctx, "objective")
	require.NoError(t, err)
	assert.InDelta(t, 510.0*430.0, v, 1e-9)
	assert.Same(t, out, design.Output())
}

func TestDesignRoleFidelitiesAreIndependent(t *testing.T) {
	disc := discipline.New("d")
	noop := discipline.FinalizerFunc(func(context.Context, *data.Context, *data.Context) error { return nil })
	design := discipline.NewDesign("design", disc, dispatch.New(nil),
		discipline.WithFinalizer("a", noop),
		discipline.WithFinalizer("b", noop),
		discipline.WithInitializer("x", discipline.InitializerFunc(func(context.Context, *data.Context) error { return nil })),
	)

	_, err := design.Finalizers().Select("b")
	require.NoError(t, err)
	assert.Equal(t, "b", design.Finalizers().Selected())
	assert.Equal(t, "x", design.Initializers().Selected())

	_, err = design.Initializers().Select("b")
	assert.ErrorIs(t, err, fault.ErrNoFidelity)
	assert.Equal(t, "x", design.Initializers().Selected())
}

func TestDesignDevelop(t *testing.T) {
	ctx := context.Background()
	design := discipline.NewDesign("design", discipline.New("d"), dispatch.New(nil))
	_, err := design.Develop(ctx)
	assert.ErrorIs(t, err, discipline.ErrNoDeveloper)

	d := dispatch.New(signature.NewResolver(multiplier()))
	disc, _ := conditional(naming.NewSequence())
	design = discipline.NewDesign("design", disc, d,
		discipline.WithDevelopmentIntent(data.From("dev", "target", 1000.0)),
		discipline.WithDeveloper("stepper", discipline.DeveloperFunc(
			func(ctx context.Context, disc *discipline.Discipline, intent *data.Context) (*data.Context, error) {
				target, err := intent.Get(ctx, "target")
				if err != nil {
					return nil, err
				}
				for start := 0.0; start < 1000; start += 250 {
					out, err := disc.Evaluate(ctx, d, data.From("in", "lambdaOut", start))
					if err != nil {
						return nil, err
					}
					if v, _ := out.Value("multiply"); v.(float64) >= target.(float64) {
						return data.From("developed", "start", start), nil
					}
				}
				return nil, errors.New("target not reached")
			})))

	out, err := design.Develop(ctx)
	require.NoError(t, err)
	v, _ := out.Value("start")
	assert.Equal(t, 0.0, v)
}
