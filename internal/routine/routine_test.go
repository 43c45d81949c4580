package routine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/strategy"
)

func TestDefaultNamesComeFromInjectedGenerator(t *testing.T) {
	gen := naming.NewSequence()
	a := NewTask(gen, "")
	b := NewTask(gen, "")
	j := NewJob(gen, "", []Routine{a, b})

	assert.Equal(t, "task-0", a.Name())
	assert.Equal(t, "task-1", b.Name())
	assert.Equal(t, "job-0", j.Name())
	assert.NotEqual(t, a.ID(), b.ID())

	// A separate generator has its own sequence.
	assert.Equal(t, "task-0", NewTask(naming.NewSequence(), "").Name())
}

func TestTaskDefaults(t *testing.T) {
	task := NewTask(nil, "adder")
	assert.Equal(t, Initial, task.Status())
	assert.Equal(t, "adder", task.Context().Name())
	assert.Equal(t, strategy.Push, task.Strategy().AccessMode())
	assert.Equal(t, "Tasker", task.Executor().Type)
	_, ok := task.ProcessSignature()
	assert.False(t, ok)
}

func TestProcessSignatureIsFirstAdded(t *testing.T) {
	task := NewTask(nil, "t", WithSignatures(
		signature.New("Adder", "add").WithOrder(5),
		signature.New("Adder", "add2").WithOrder(1),
	))
	sig, ok := task.ProcessSignature()
	require.True(t, ok)
	assert.Equal(t, "add", sig.Selector)

	// Signatures are reported in ordering-key order.
	sigs := task.Signatures()
	assert.Equal(t, "add2", sigs[0].Selector)
	assert.Equal(t, "add", sigs[1].Selector)
}

func TestBeginRejectsReentry(t *testing.T) {
	task := NewTask(nil, "t")
	require.NoError(t, task.Begin())
	err := task.Begin()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrReentrant))

	// A finished routine may run again.
	task.SetStatus(Done)
	require.NoError(t, task.Begin())
}

func TestBeginIsAtomic(t *testing.T) {
	task := NewTask(nil, "t")
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if task.Begin() == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestStatusText(t *testing.T) {
	raw, err := json.Marshal(Suspended)
	require.NoError(t, err)
	assert.Equal(t, `"SUSPENDED"`, string(raw))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"failed"`), &s))
	assert.Equal(t, Failed, s)
	assert.True(t, s.IsTerminal())
	assert.False(t, Running.IsTerminal())
}

func TestAllNetSignaturesWalksTree(t *testing.T) {
	gen := naming.NewSequence()
	t1 := NewTask(gen, "t1", WithSignatures(signature.NewNet("Multiplier", "multiply", "m").WithOrder(3)))
	t2 := NewTask(gen, "t2", WithSignatures(signature.NewNet("Adder", "add", "a").WithOrder(1)))
	t3 := NewTask(gen, "t3", WithSignatures(signature.New("Local", "run").WithOrder(0)))
	loop := NewLoop(gen, "loop", MustWhen("n < 1"), NewPipeline(gen, "body", []Routine{t3, t1}))
	job := NewJob(gen, "job", []Routine{loop, t2})

	first := AllNetSignatures(job)
	require.Len(t, first, 2)
	assert.Equal(t, "Adder", first[0].Type)
	assert.Equal(t, "Multiplier", first[1].Type)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, AllNetSignatures(job))
	}

	id1, err := DeploymentID(job)
	require.NoError(t, err)
	id2, err := DeploymentID(job)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestSignaturesSharingSelectorAreKept(t *testing.T) {
	task := NewTask(nil, "mixed", WithSignatures(
		signature.NewNet("Adder", "compute", "p1").WithOrder(1),
		signature.NewNet("Multiplier", "compute", "p2").WithOrder(2),
	))
	task.AddSignature(signature.NewNet("Divider", "compute", "p3").WithOrder(3))

	got := AllNetSignatures(task)
	require.Len(t, got, 3)
	assert.Equal(t, "Adder", got[0].Type)
	assert.Equal(t, "Multiplier", got[1].Type)
	assert.Equal(t, "Divider", got[2].Type)

	process, ok := task.ProcessSignature()
	require.True(t, ok)
	assert.Equal(t, "Adder", process.Type)

	// Re-adding the same binding replaces it rather than duplicating it.
	task.AddSignature(signature.NewNet("Adder", "compute", "p1").WithOrder(1))
	assert.Len(t, AllNetSignatures(task), 3)

	full, err := DeploymentID(task)
	require.NoError(t, err)
	single, err := DeploymentID(NewTask(nil, "one", WithSignatures(signature.NewNet("Multiplier", "compute", "p2").WithOrder(2))))
	require.NoError(t, err)
	assert.NotEqual(t, single, full)
}

func TestUnnamedRoutinesWithoutGeneratorStayDistinct(t *testing.T) {
	a := NewTask(nil, "")
	b := NewTask(nil, "")
	j := NewJob(nil, "", []Routine{a, b})

	assert.NotEqual(t, a.Name(), b.Name())
	assert.Equal(t, "task-"+a.ID(), a.Name())
	assert.Equal(t, "job-"+j.ID(), j.Name())

	found, ok := Find(j, b.Name())
	require.True(t, ok)
	assert.Equal(t, b.ID(), found.ID())
}

func TestFind(t *testing.T) {
	gen := naming.NewSequence()
	inner := NewTask(gen, "inner")
	alt := NewAlt(gen, "alt", []*Opt{NewOpt(gen, "opt", MustWhen("true"), inner)})
	p := NewPipeline(gen, "p", []Routine{alt})

	got, ok := Find(p, "inner")
	require.True(t, ok)
	assert.Same(t, inner, got)

	_, ok = Find(p, "missing")
	assert.False(t, ok)
	assert.True(t, IsComposite(p))
	assert.False(t, IsComposite(inner))
}

func TestWhenCondition(t *testing.T) {
	ctx := context.Background()
	c := data.From("c", "count", 2)

	ok, err := MustWhen("count < 3").Holds(ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = MustWhen("count + 1").Holds(ctx, c)
	assert.True(t, errors.Is(err, fault.ErrFailure))

	_, err = MustWhen("missing > 0").Holds(ctx, c)
	assert.True(t, errors.Is(err, fault.ErrContext))

	_, err = When("count <")
	assert.Error(t, err)
	assert.Equal(t, "count < 3", Source(MustWhen("count < 3")))
}

func TestCondFunc(t *testing.T) {
	cond := CondFunc(func(ctx context.Context, c *data.Context) (bool, error) {
		return c.Has("go"), nil
	})
	ok, err := cond.Holds(context.Background(), data.From("c", "go", true))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArgsDescribeThemselves(t *testing.T) {
	args := []Arg{
		Set("x", 1), Override(strategy.Override()), Op("t", "sub"), Fi("fast"),
		Txn("tx"), Provider("p"), Return(data.Result("y")), With(data.New("in")),
	}
	for _, a := range args {
		assert.NotEmpty(t, a.String())
	}
}
