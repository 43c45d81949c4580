package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/dispatch"
	"github.com/mattjoyce/exert/internal/dispatch/mocks"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/fidelity"
	"github.com/mattjoyce/exert/internal/log"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/strategy"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	goleak.VerifyTestMain(m)
}

func num(ctx context.Context, c *data.Context, path string) (int64, error) {
	v, err := c.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fault.Failf("%s is %T, not int64", path, v)
	}
	return n, nil
}

// arith registers Arith#add and Arith#multiply over paths a and b.
func arith() *signature.Registry {
	reg := signature.NewRegistry()
	reg.RegisterEval("Arith", "add", func(ctx context.Context, c *data.Context) (any, error) {
		a, err := num(ctx, c, "a")
		if err != nil {
			return nil, err
		}
		b, err := num(ctx, c, "b")
		if err != nil {
			return nil, err
		}
		return a + b, nil
	})
	reg.RegisterEval("Arith", "multiply", func(ctx context.Context, c *data.Context) (any, error) {
		a, err := num(ctx, c, "a")
		if err != nil {
			return nil, err
		}
		b, err := num(ctx, c, "b")
		if err != nil {
			return nil, err
		}
		return a * b, nil
	})
	return reg
}

func operands(a, b int64) *data.Context {
	return data.From("operands", "a", a, "b", b)
}

func TestExertEvaluateWritesReturnPath(t *testing.T) {
	gen := naming.NewSequence()
	d := dispatch.New(signature.NewResolver(arith()))
	task := routine.NewTask(gen, "sum",
		routine.WithSignatures(signature.New("Arith", "add").WithReturn(data.Result("sum"))),
		routine.WithContext(operands(3, 4)))

	_, err := d.Exert(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, routine.Done, task.Status())

	v, err := task.Context().Get(context.Background(), "sum")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.Equal(t, data.DirOut, task.Context().Direction("sum"))

	rv, err := d.ReturnValue(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rv)
}

func TestValueWithoutRequestPathGoesToDefaultPath(t *testing.T) {
	d := dispatch.New(signature.NewResolver(arith()))
	task := routine.NewTask(nil, "",
		routine.WithSignatures(signature.New("Arith", "multiply")),
		routine.WithContext(operands(3, 4)))

	v, err := d.Evaluate(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	got, ok := task.Context().Value(dispatch.DefaultReturnPath)
	require.True(t, ok)
	assert.Equal(t, int64(12), got)
}

func TestInvokeOperationMutatesContext(t *testing.T) {
	reg := signature.NewRegistry()
	reg.RegisterInvoke("Box", "stamp", func(_ context.Context, c *data.Context) error {
		c.PutOut("stamped", true)
		return nil
	})
	d := dispatch.New(signature.NewResolver(reg))
	task := routine.NewTask(nil, "stamp", routine.WithSignatures(signature.New("Box", "stamp")))

	_, err := d.Exert(context.Background(), task)
	require.NoError(t, err)

	v, ok := task.Context().Value("stamped")
	require.True(t, ok)
	assert.Equal(t, true, v)

	// A self request path returns the routine itself.
	rv, err := d.ReturnValue(context.Background(), task)
	require.NoError(t, err)
	assert.Same(t, task, rv)
}

func TestReturnValueIsFinalized(t *testing.T) {
	var calls int
	reg := signature.NewRegistry()
	reg.RegisterEval("Stub", "count", func(context.Context, *data.Context) (any, error) {
		calls++
		return int64(calls * 100), nil
	})
	d := dispatch.New(signature.NewResolver(reg))
	task := routine.NewTask(nil, "stub",
		routine.WithSignatures(signature.New("Stub", "count").WithReturn(data.Result("out"))))

	_, err := d.Exert(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	for range 3 {
		v, err := d.ReturnValue(context.Background(), task)
		require.NoError(t, err)
		assert.Equal(t, int64(100), v)
	}
	assert.Equal(t, 1, calls, "finalized value must not re-invoke the target")
	assert.True(t, task.Context().IsFinalized())
}

func TestOperationFailureIsRecoverable(t *testing.T) {
	reg := signature.NewRegistry()
	reg.RegisterEval("Stub", "fail", func(context.Context, *data.Context) (any, error) {
		return nil, fault.Failf("insufficient funds")
	})
	d := dispatch.New(signature.NewResolver(reg))
	task := routine.NewTask(nil, "pay", routine.WithSignatures(signature.New("Stub", "fail")))

	_, err := d.Exert(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrRoutine)
	assert.ErrorIs(t, err, fault.ErrFailure)
	assert.Equal(t, routine.Failed, task.Status())

	var rf *fault.RoutineFault
	require.ErrorAs(t, err, &rf)
	assert.Equal(t, task.ID(), rf.RoutineID)
	assert.Len(t, rf.Trace(), 1)
	assert.Contains(t, rf.Error(), "insufficient funds")
	assert.Equal(t, 1, task.Strategy().Trace().Len())
}

func TestMissingPathIsContextFault(t *testing.T) {
	d := dispatch.New(signature.NewResolver(arith()))
	task := routine.NewTask(nil, "sum",
		routine.WithSignatures(signature.New("Arith", "add")),
		routine.WithContext(data.From("in", "a", int64(1))))

	_, err := d.Exert(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrContext)
	assert.Equal(t, routine.Failed, task.Status())
}

func TestUnboundSignatureIsError(t *testing.T) {
	d := dispatch.New(nil)
	task := routine.NewTask(nil, "", routine.WithSignatures(signature.New("Nope", "nothing")))

	_, err := d.Exert(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, signature.ErrUnbound)
	assert.Equal(t, routine.Error, task.Status())
}

func TestReentrantExertIsRejected(t *testing.T) {
	d := dispatch.New(signature.NewResolver(arith()))
	task := routine.NewTask(nil, "", routine.WithSignatures(signature.New("Arith", "add")))
	task.SetStatus(routine.Running)

	_, err := d.Exert(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrReentrant)
	assert.Equal(t, routine.Running, task.Status())
	assert.Zero(t, task.Strategy().Trace().Len())
}

func TestSubstitutionIsAtomic(t *testing.T) {
	d := dispatch.New(signature.NewResolver(arith()))
	task := routine.NewTask(nil, "sum",
		routine.WithSignatures(signature.New("Arith", "add")),
		routine.WithContext(operands(1, 2)))

	_, err := d.Exert(context.Background(), task,
		routine.Set("a", int64(50)),
		routine.Override(strategy.Override().WithFlow(strategy.Parallel)),
		routine.Fi("no-such-variant"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrSubstitution)
	assert.ErrorIs(t, err, fault.ErrNoFidelity)
	assert.Equal(t, routine.Failed, task.Status())

	v, _ := task.Context().Value("a")
	assert.Equal(t, int64(1), v, "no override may be applied")
	assert.Equal(t, strategy.Sequential, task.Strategy().FlowMode())
}

func TestSubstitutionAppliesOverrides(t *testing.T) {
	d := dispatch.New(signature.NewResolver(arith()))
	task := routine.NewTask(nil, "calc",
		routine.WithSignatures(signature.New("Arith", "add").WithReturn(data.Result("out"))),
		routine.WithContext(operands(3, 4)))

	v, err := d.Evaluate(context.Background(), task,
		routine.Set("a", int64(5)),
		routine.Op("", "multiply"),
		routine.Txn("tx-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)
	assert.Equal(t, "tx-1", task.Txn())

	sig, ok := task.ProcessSignature()
	require.True(t, ok)
	assert.Equal(t, "multiply", sig.Selector)
}

func TestFidelitySelectsVariant(t *testing.T) {
	d := dispatch.New(signature.NewResolver(arith()))
	task := routine.NewTask(nil, "calc",
		routine.WithSignatures(
			signature.New("Arith", "add").WithName("fast"),
			signature.New("Arith", "multiply").WithName("precise")),
		routine.WithContext(operands(3, 4)))

	v, err := d.Evaluate(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = d.Evaluate(context.Background(), task, routine.Fi("precise"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)
	assert.Equal(t, "precise", task.SignatureFidelity().Selected())
}

func TestScopeFillsInputPaths(t *testing.T) {
	d := dispatch.New(signature.NewResolver(arith()))
	c := data.New("in")
	c.PutIn("a", nil)
	c.PutIn("b", int64(2))
	c.SetScope(data.From("scope", "a", int64(40)))
	task := routine.NewTask(nil, "", routine.WithSignatures(signature.New("Arith", "add")), routine.WithContext(c))

	v, err := d.Evaluate(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func remoteTask(name string, opts ...routine.Option) *routine.Task {
	opts = append([]routine.Option{
		routine.WithSignatures(signature.NewNet("Arith", "add", "calc-1").
			WithDeployment(&signature.Deployment{Name: "arith", Version: "1.0"})),
		routine.WithContext(operands(3, 4)),
		routine.WithPrincipal([]byte("alice")),
	}, opts...)
	return routine.NewTask(nil, name, opts...)
}

func TestRemoteAppendsResultContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req *dispatch.Request) (*data.Context, error) {
		assert.Equal(t, "sum", req.Routine)
		assert.Equal(t, "calc-1", req.Signature.Provider)
		assert.Equal(t, []byte("alice"), req.Principal)
		assert.Equal(t, "tx-9", req.Txn)
		return data.From("reply", "sum", int64(7)), nil
	})

	d := dispatch.New(nil, dispatch.WithTransport(tr))
	task := remoteTask("sum")
	_, err := d.Exert(context.Background(), task, routine.Txn("tx-9"))
	require.NoError(t, err)
	assert.Equal(t, routine.Done, task.Status())

	v, ok := task.Context().Value("sum")
	require.True(t, ok)
	assert.Equal(t, int64(7), v)
}

func TestProviderOverrideSurvivesFidelityResolution(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req *dispatch.Request) (*data.Context, error) {
		assert.Equal(t, "precise", req.Signature.Selector)
		assert.Equal(t, "calc-9", req.Signature.Provider)
		return data.From("reply", "sum", int64(7)), nil
	})

	res := signature.NewResolver(signature.NewRegistry())
	variants := fidelity.New[signature.Signature]("Arith")
	variants.Add("precise", signature.NewNet("Arith", "precise", "calc-1"))
	res.AddFidelity(variants)

	d := dispatch.New(res, dispatch.WithTransport(tr))
	task := remoteTask("sum")
	_, err := d.Exert(context.Background(), task, routine.Provider("calc-9"))
	require.NoError(t, err)
	assert.Equal(t, routine.Done, task.Status())
}

func TestRemoteDoesNotShareContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req *dispatch.Request) (*data.Context, error) {
		req.Context.Put("a", int64(999))
		return nil, nil
	})

	d := dispatch.New(nil, dispatch.WithTransport(tr))
	task := remoteTask("sum")
	_, err := d.Exert(context.Background(), task)
	require.NoError(t, err)

	v, _ := task.Context().Value("a")
	assert.Equal(t, int64(3), v)
}

func TestRemoteCancellation(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ *dispatch.Request) (*data.Context, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	d := dispatch.New(nil, dispatch.WithTransport(tr))
	task := remoteTask("slow")
	_, err := d.Exert(ctx, task)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrCancelled)
	assert.Equal(t, routine.Error, task.Status())
	assert.NotEqual(t, routine.Done, task.Status())
}

func TestRemoteCancelledBeforeSend(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := dispatch.New(nil, dispatch.WithTransport(tr))
	task := remoteTask("never")
	_, err := d.Exert(ctx, task)
	assert.ErrorIs(t, err, fault.ErrCancelled)
	assert.Equal(t, routine.Error, task.Status())
}

func TestRemoteTransportErrorIsNotRecoverable(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	tr.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused")).Times(1)

	d := dispatch.New(nil, dispatch.WithTransport(tr))
	task := remoteTask("sum")
	_, err := d.Exert(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, routine.Error, task.Status())
}

func TestRemoteWithoutTransport(t *testing.T) {
	d := dispatch.New(nil)
	task := remoteTask("sum")
	_, err := d.Exert(context.Background(), task)
	assert.ErrorIs(t, err, dispatch.ErrNoTransport)
}

func TestProvisionableRoutineIsProvisionedFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	prov := mocks.NewMockProvisioner(ctrl)

	task := remoteTask("sum", routine.WithStrategy(strategy.New().WithProvisionable(true)))
	id, err := routine.DeploymentID(task)
	require.NoError(t, err)

	gomock.InOrder(
		prov.EXPECT().Provision(gomock.Any(), id, []signature.Deployment{{Name: "arith", Version: "1.0"}}).Return(nil),
		tr.EXPECT().Send(gomock.Any(), gomock.Any()).Return(data.From("reply", "sum", int64(7)), nil),
	)

	d := dispatch.New(nil, dispatch.WithTransport(tr), dispatch.WithProvisioner(prov))
	_, err = d.Exert(context.Background(), task)
	require.NoError(t, err)
}

func TestProvisioningFailureStopsDispatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocks.NewMockTransport(ctrl)
	prov := mocks.NewMockProvisioner(ctrl)
	prov.EXPECT().Provision(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("no capacity"))

	d := dispatch.New(nil, dispatch.WithTransport(tr), dispatch.WithProvisioner(prov))
	task := remoteTask("sum", routine.WithStrategy(strategy.New().WithProvisionable(true)))
	_, err := d.Exert(context.Background(), task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capacity")
}

func TestPullWaitsForSpaceOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	sp := mocks.NewMockSpacer(ctrl)

	task := routine.NewTask(nil, "sum",
		routine.WithSignatures(signature.New("Arith", "add").WithReturn(data.Result("sum"))),
		routine.WithContext(operands(3, 4)),
		routine.WithStrategy(strategy.New().WithAccess(strategy.Pull)),
		routine.WithReturn(data.Result("sum")))

	sp.EXPECT().Write(gomock.Any(), task).Return("entry-1", nil)
	sp.EXPECT().Await(gomock.Any(), "entry-1").Return(&dispatch.SpaceOutcome{
		Status:  routine.Done,
		Context: data.From("done", "sum", int64(7)),
	}, nil)

	d := dispatch.New(nil, dispatch.WithSpace(sp))
	v, err := d.Evaluate(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.Equal(t, routine.Done, task.Status())
	assert.Equal(t, signature.SpacerType, task.Executor().Type)
	assert.Equal(t, signature.AnyProvider, task.Executor().Provider)
}

func TestPullWithoutWaitSuspends(t *testing.T) {
	ctrl := gomock.NewController(t)
	sp := mocks.NewMockSpacer(ctrl)
	sp.EXPECT().Write(gomock.Any(), gomock.Any()).Return("entry-2", nil)

	d := dispatch.New(nil, dispatch.WithSpace(sp))
	task := routine.NewTask(nil, "later",
		routine.WithSignatures(signature.New("Arith", "add")),
		routine.WithStrategy(strategy.New().WithAccess(strategy.Pull).WithWaitable(false)))

	_, err := d.Exert(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, routine.Suspended, task.Status())
}

func TestPullFailedOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	sp := mocks.NewMockSpacer(ctrl)
	sp.EXPECT().Write(gomock.Any(), gomock.Any()).Return("entry-3", nil)
	sp.EXPECT().Await(gomock.Any(), "entry-3").Return(&dispatch.SpaceOutcome{
		Status: routine.Failed,
		Faults: []string{"divide by zero"},
	}, nil)

	d := dispatch.New(nil, dispatch.WithSpace(sp))
	task := routine.NewTask(nil, "div",
		routine.WithSignatures(signature.New("Arith", "divide")),
		routine.WithStrategy(strategy.New().WithAccess(strategy.Pull)))

	_, err := d.Exert(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrFailure)
	assert.Contains(t, err.Error(), "divide by zero")
	assert.Equal(t, routine.Failed, task.Status())
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (e *eventLog) Publish(eventType string, _ any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
}

func TestMonitorableRoutinePublishesLifecycle(t *testing.T) {
	events := &eventLog{}
	d := dispatch.New(signature.NewResolver(arith()), dispatch.WithEvents(events))

	quiet := routine.NewTask(nil, "quiet",
		routine.WithSignatures(signature.New("Arith", "add")),
		routine.WithContext(operands(1, 1)))
	_, err := d.Exert(context.Background(), quiet)
	require.NoError(t, err)
	assert.Empty(t, events.events)

	loud := routine.NewTask(nil, "loud",
		routine.WithSignatures(signature.New("Arith", "add")),
		routine.WithContext(operands(1, 1)),
		routine.WithStrategy(strategy.New().WithMonitorable(true)))
	_, err = d.Exert(context.Background(), loud)
	require.NoError(t, err)
	assert.Equal(t, []string{dispatch.EventStarted, dispatch.EventDone}, events.events)
}

type ledger struct {
	records []dispatch.Record
}

func (l *ledger) Record(_ context.Context, rec dispatch.Record) error {
	l.records = append(l.records, rec)
	return nil
}

func TestRecorderSeesTopLevelExertionsOnly(t *testing.T) {
	gen := naming.NewSequence()
	rec := &ledger{}
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := dispatch.New(signature.NewResolver(arith()),
		dispatch.WithRecorder(rec),
		dispatch.WithClock(func() time.Time { return clock }))

	job := routine.NewJob(gen, "job", []routine.Routine{
		routine.NewTask(gen, "t1", routine.WithSignatures(signature.New("Arith", "add")), routine.WithContext(operands(1, 2))),
		routine.NewTask(gen, "t2", routine.WithSignatures(signature.New("Arith", "add")), routine.WithContext(operands(3, 4))),
	})
	_, err := d.Exert(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, rec.records, 1)
	assert.Equal(t, "job", rec.records[0].Routine)
	assert.Equal(t, routine.KindJob, rec.records[0].Kind)
	assert.Equal(t, routine.Done, rec.records[0].Status)
	assert.Equal(t, clock, rec.records[0].StartedAt)
}

func TestExecTimeIsRecorded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	d := dispatch.New(signature.NewResolver(arith()), dispatch.WithClock(tick))
	task := routine.NewTask(nil, "",
		routine.WithSignatures(signature.New("Arith", "add")),
		routine.WithContext(operands(1, 2)),
		routine.WithStrategy(strategy.New().WithExecTime(true)))

	_, err := d.Exert(context.Background(), task)
	require.NoError(t, err)
	assert.Positive(t, task.Strategy().ExecDuration())
}

func TestInvokeMergesIntoLinkedContexts(t *testing.T) {
	d := dispatch.New(signature.NewResolver(arith()))
	inner := operands(0, 0)
	c := data.New("outer")
	c.Link("args", inner)
	task := routine.NewTask(nil, "sum",
		routine.WithSignatures(signature.Expr(`val("args/a") * val("args/b") + c`)),
		routine.WithContext(c))

	v, err := d.Invoke(context.Background(), task, data.From("in", "args/a", int64(6), "args/b", int64(7), "c", int64(1)))
	require.NoError(t, err)
	assert.Equal(t, int64(43), v)

	got, _ := inner.Value("a")
	assert.Equal(t, int64(6), got)
}

func TestBindBacksDeferredEntry(t *testing.T) {
	d := dispatch.New(signature.NewResolver(arith()))
	task := routine.NewTask(nil, "adder",
		routine.WithSignatures(signature.New("Arith", "add").WithReturn(data.Result("sum"))))

	model := data.From("model", "a", int64(20), "b", int64(22))
	model.Put("sum", data.NewEntry("sum", dispatch.Bind(d, task), "a", "b"))

	v, err := model.Get(context.Background(), "sum")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	model.Put("a", int64(1))
	v, err = model.Get(context.Background(), "sum")
	require.NoError(t, err)
	assert.Equal(t, int64(23), v)
}
