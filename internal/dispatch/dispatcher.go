package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/log"
	"github.com/mattjoyce/exert/internal/routine"
	"github.com/mattjoyce/exert/internal/signature"
)

// DefaultReturnPath receives value results of routines without a request
// path.
const DefaultReturnPath = "result"

// Lifecycle event types published for monitorable routines.
const (
	EventStarted   = "routine.started"
	EventDone      = "routine.done"
	EventFailed    = "routine.failed"
	EventSuspended = "routine.suspended"
)

var (
	ErrNoTransport = errors.New("no transport configured")
	ErrNoSpace     = errors.New("no space configured")
	ErrNoSignature = errors.New("routine has no process signature")
)

// Dispatcher executes routines against a signature resolver and the
// external collaborators it was built with.
type Dispatcher struct {
	resolver    *signature.Resolver
	transport   Transport
	provisioner Provisioner
	space       Spacer
	recorder    Recorder
	events      Publisher
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithTransport(t Transport) Option     { return func(d *Dispatcher) { d.transport = t } }
func WithProvisioner(p Provisioner) Option { return func(d *Dispatcher) { d.provisioner = p } }
func WithSpace(s Spacer) Option            { return func(d *Dispatcher) { d.space = s } }
func WithRecorder(r Recorder) Option       { return func(d *Dispatcher) { d.recorder = r } }
func WithEvents(p Publisher) Option        { return func(d *Dispatcher) { d.events = p } }
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// New creates a Dispatcher.
func New(res *signature.Resolver, opts ...Option) *Dispatcher {
	if res == nil {
		res = signature.NewResolver(nil)
	}
	d := &Dispatcher{
		resolver: res,
		now:      time.Now,
		logger:   log.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Resolver() *signature.Resolver { return d.resolver }

// Exert runs r with args applied and returns it. On failure the returned
// error is a *fault.RoutineFault and r's status is FAILED or ERROR.
func (d *Dispatcher) Exert(ctx context.Context, r routine.Routine, args ...routine.Arg) (routine.Routine, error) {
	start := d.now()
	err := d.run(ctx, r, args)
	d.record(ctx, r, start, err)
	return r, err
}

// run drives one routine through its lifecycle. Composites call it for each
// child, so every routine in a tree gets its own status and trace.
func (d *Dispatcher) run(ctx context.Context, r routine.Routine, args []routine.Arg) error {
	if err := r.Begin(); err != nil {
		return fault.NewRoutineFault(r.ID(), r.Name(), err, nil)
	}
	logger := d.logger.With("routine_id", r.ID(), "routine", r.Name(), "kind", string(r.Kind()))

	if err := d.substitute(r, args); err != nil {
		return d.fail(r, logger, err)
	}

	strat := r.Strategy()
	r.Context().ResetFinalized()
	if strat.IsExecTimed() {
		strat.MarkStart(d.now())
		defer func() { strat.MarkStop(d.now()) }()
	}
	d.publish(r, EventStarted)
	logger.Debug("exerting routine", "strategy", strat.String())

	exec := signature.CorrectAccess(r.Executor(), strat.AccessMode())
	r.SetExecutor(exec)

	suspended, err := d.execute(ctx, r, exec)
	if err != nil {
		return d.fail(r, logger, err)
	}
	if suspended || anySuspended(r) {
		r.SetStatus(routine.Suspended)
		d.publish(r, EventSuspended)
		logger.Info("routine suspended")
		return nil
	}
	r.SetStatus(routine.Done)
	d.publish(r, EventDone)
	logger.Debug("routine done")
	return nil
}

func anySuspended(r routine.Routine) bool {
	for _, c := range routine.Children(r) {
		if c.Status() == routine.Suspended {
			return true
		}
	}
	return false
}

// execute classifies r and dispatches it. It reports true when the routine
// was handed to the space without waiting.
func (d *Dispatcher) execute(ctx context.Context, r routine.Routine, exec signature.Signature) (bool, error) {
	if exec.Type == signature.SpacerType {
		return d.pull(ctx, r)
	}
	if routine.IsComposite(r) {
		if err := d.compose(ctx, r); err != nil {
			return false, err
		}
		return false, d.finalize(ctx, r, nil)
	}
	return false, d.dispatchTask(ctx, r)
}

func (d *Dispatcher) dispatchTask(ctx context.Context, r routine.Routine) error {
	sig, ok := r.ProcessSignature()
	if !ok {
		return fmt.Errorf("%s: %w", r.Name(), ErrNoSignature)
	}
	tgt, err := d.resolver.Resolve(sig)
	if err != nil {
		return err
	}
	// Resolution may swap in a fidelity variant; the override still wins.
	if p := r.Provider(); p != "" {
		tgt.Signature = tgt.Signature.WithProvider(p)
	}

	if tgt.Capability == signature.Remote {
		return d.remote(ctx, r, tgt.Signature)
	}
	if err := ctx.Err(); err != nil {
		return &fault.CancelledFault{Routine: r.Name(), Err: err}
	}

	c := r.Context()
	switch tgt.Capability {
	case signature.Invoke:
		if err := tgt.Invoke(ctx, c); err != nil {
			return err
		}
		return d.finalize(ctx, r, tgt.Signature.Return)
	case signature.Evaluate:
		v, err := tgt.Eval(ctx, c)
		if err != nil {
			return err
		}
		return d.reconcileValue(ctx, r, tgt.Signature, v)
	default:
		return fmt.Errorf("resolve %s: unknown capability %v", tgt.Signature, tgt.Capability)
	}
}

// remote sends the routine's Context through the transport. The call runs
// in its own goroutine so a cancelled ctx fails the dispatch immediately,
// whatever the transport does.
func (d *Dispatcher) remote(ctx context.Context, r routine.Routine, sig signature.Signature) error {
	if d.transport == nil {
		return ErrNoTransport
	}
	if err := ctx.Err(); err != nil {
		return &fault.CancelledFault{Routine: r.Name(), Err: err}
	}
	if r.Strategy().IsProvisionable() && d.provisioner != nil {
		id, err := routine.DeploymentID(r)
		if err != nil {
			return err
		}
		if err := d.provisioner.Provision(ctx, id, routine.AllDeployments(r)); err != nil {
			return fmt.Errorf("provision %s: %w", id, err)
		}
	}

	sent, err := r.Context().Resolve(ctx)
	if err != nil {
		return err
	}
	req := &Request{
		RoutineID: r.ID(),
		Routine:   r.Name(),
		Signature: sig,
		Context:   sent,
		Txn:       r.Txn(),
		Principal: r.Principal(),
	}

	type reply struct {
		c   *data.Context
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		c, err := d.transport.Send(ctx, req)
		ch <- reply{c: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return &fault.CancelledFault{Routine: r.Name(), Err: ctx.Err()}
	case rep := <-ch:
		if rep.err != nil {
			if errors.Is(rep.err, context.Canceled) || errors.Is(rep.err, context.DeadlineExceeded) {
				return &fault.CancelledFault{Routine: r.Name(), Err: rep.err}
			}
			return fmt.Errorf("remote %s: %w", sig, rep.err)
		}
		if rep.c != nil {
			r.Context().Append(rep.c)
		}
		return d.finalize(ctx, r, sig.Return)
	}
}

// pull writes r to the space. A waitable routine blocks until a worker
// completes it; otherwise it is left SUSPENDED.
func (d *Dispatcher) pull(ctx context.Context, r routine.Routine) (bool, error) {
	if d.space == nil {
		return false, ErrNoSpace
	}
	id, err := d.space.Write(ctx, r)
	if err != nil {
		return false, fmt.Errorf("space write: %w", err)
	}
	if !r.Strategy().IsWaitable() {
		return true, nil
	}

	out, err := d.space.Await(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return false, &fault.CancelledFault{Routine: r.Name(), Err: ctx.Err()}
		}
		return false, fmt.Errorf("space await %s: %w", id, err)
	}
	if out.Context != nil {
		r.Context().Append(out.Context)
	}
	switch out.Status {
	case routine.Done:
		return false, d.finalize(ctx, r, nil)
	case routine.Failed:
		return false, &fault.Failure{Msg: "space entry " + id + " failed", Err: errors.New(strings.Join(out.Faults, "; "))}
	default:
		return false, fmt.Errorf("space entry %s ended %s: %s", id, out.Status, strings.Join(out.Faults, "; "))
	}
}

// fail records err on r's trace, sets FAILED or ERROR and wraps it.
func (d *Dispatcher) fail(r routine.Routine, logger *slog.Logger, err error) error {
	trace := r.Strategy().Trace()
	if sib, ok := err.(siblingFaults); ok {
		for _, e := range sib {
			trace.AddFault(e)
		}
	} else {
		trace.AddFault(err)
	}

	status := statusFor(err)
	r.SetStatus(status)
	d.publish(r, EventFailed)
	logger.Warn("routine failed", "status", status.String(), "error", err)
	return fault.NewRoutineFault(r.ID(), r.Name(), err, trace.Faults())
}

// statusFor maps a fault to FAILED when every part of it is recoverable.
func statusFor(err error) routine.Status {
	var sib siblingFaults
	if errors.As(err, &sib) {
		for _, e := range sib {
			if statusFor(e) == routine.Error {
				return routine.Error
			}
		}
		return routine.Failed
	}
	if fault.IsRecoverable(err) {
		return routine.Failed
	}
	return routine.Error
}

// siblingFaults collects the faults of parallel siblings in list order.
type siblingFaults []error

func (s siblingFaults) Error() string {
	msgs := make([]string, len(s))
	for i, e := range s {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

func (s siblingFaults) Unwrap() []error { return s }

type lifecycleEvent struct {
	RoutineID string   `json:"routine_id"`
	Routine   string   `json:"routine"`
	Kind      string   `json:"kind"`
	Status    string   `json:"status"`
	Faults    []string `json:"faults,omitempty"`
}

func (d *Dispatcher) publish(r routine.Routine, eventType string) {
	if d.events == nil || !r.Strategy().IsMonitorable() {
		return
	}
	ev := lifecycleEvent{
		RoutineID: r.ID(),
		Routine:   r.Name(),
		Kind:      string(r.Kind()),
		Status:    r.Status().String(),
	}
	if eventType == EventFailed {
		ev.Faults = faultMessages(r)
	}
	d.events.Publish(eventType, ev)
}

func (d *Dispatcher) record(ctx context.Context, r routine.Routine, start time.Time, err error) {
	if d.recorder == nil {
		return
	}
	var re *fault.RoutineFault
	if errors.As(err, &re) && errors.Is(re.Err, fault.ErrReentrant) {
		return
	}
	rec := Record{
		RoutineID: r.ID(),
		Routine:   r.Name(),
		Kind:      r.Kind(),
		Status:    r.Status(),
		Faults:    faultMessages(r),
		StartedAt: start,
		Duration:  d.now().Sub(start),
	}
	if rerr := d.recorder.Record(ctx, rec); rerr != nil {
		d.logger.Error("failed to record exertion", "routine", r.Name(), "error", rerr)
	}
}

func faultMessages(r routine.Routine) []string {
	faults := r.Strategy().Trace().Faults()
	out := make([]string, len(faults))
	for i, f := range faults {
		out[i] = f.Error()
	}
	return out
}
