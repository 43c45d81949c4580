// Package routine defines the executable units: tasks, jobs, blocks,
// pipelines and the control elements (loop, opt, alt) that wrap them.
//
// Every kind shares one Core carrying the Context, control Strategy, ordered
// signatures and status. Behavior that only some kinds have is exposed
// through small role interfaces (Composite, Conditional) instead of a type
// hierarchy.
package routine

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/fidelity"
	"github.com/mattjoyce/exert/internal/naming"
	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/strategy"
)

// Status is the lifecycle state of a routine.
type Status int32

const (
	Initial Status = iota
	Running
	Done
	Failed
	Error
	Suspended
)

func (s Status) String() string {
	switch s {
	case Initial:
		return "INITIAL"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	case Error:
		return "ERROR"
	case Suspended:
		return "SUSPENDED"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for st := Initial; st <= Suspended; st++ {
		if strings.EqualFold(st.String(), string(b)) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// IsTerminal reports whether s ends an execution.
func (s Status) IsTerminal() bool {
	return s == Done || s == Failed || s == Error || s == Suspended
}

// Kind tags the routine variant.
type Kind string

const (
	KindTask     Kind = "task"
	KindJob      Kind = "job"
	KindBlock    Kind = "block"
	KindPipeline Kind = "pipeline"
	KindLoop     Kind = "loop"
	KindOpt      Kind = "opt"
	KindAlt      Kind = "alt"
)

// Default executor families per kind; access correction may rebind them.
var defaultExecutor = map[Kind]string{
	KindTask:     "Tasker",
	KindJob:      signature.JobberType,
	KindBlock:    "Concatenator",
	KindPipeline: "Pipeliner",
	KindLoop:     "Looper",
	KindOpt:      "Opter",
	KindAlt:      "Alter",
}

// Routine is the common view of every executable unit.
type Routine interface {
	ID() string
	Name() string
	Kind() Kind

	Context() *data.Context
	SetContext(c *data.Context)
	Strategy() *strategy.Strategy
	SetStrategy(s *strategy.Strategy)

	// Signatures returns the routine's signatures in total order.
	Signatures() []signature.Signature
	// ProcessSignature returns the selected signature.
	ProcessSignature() (signature.Signature, bool)
	SignatureFidelity() *fidelity.Fidelity[signature.Signature]
	SetSignatureFidelity(f *fidelity.Fidelity[signature.Signature])
	// Executor is the executor family the routine is bound to, after
	// access correction.
	Executor() signature.Signature
	SetExecutor(sig signature.Signature)

	RequestPath() *data.RequestPath
	SetRequestPath(rp *data.RequestPath)
	Principal() []byte
	SetPrincipal(p []byte)
	Txn() string
	SetTxn(id string)
	Provider() string
	SetProvider(name string)

	Status() Status
	SetStatus(s Status)
	// Begin moves the routine to RUNNING. A routine already RUNNING is
	// rejected with fault.ErrReentrant.
	Begin() error

	core() *Core
}

// Composite routines own an ordered list of children.
type Composite interface {
	Routine
	Children() []Routine
}

// Conditional routines guard a body with a Condition.
type Conditional interface {
	Routine
	Condition() Condition
	Body() Routine
}

// Core carries the fields every routine kind shares.
type Core struct {
	id   string
	name string
	kind Kind

	mu        sync.RWMutex
	ctx       *data.Context
	strat     *strategy.Strategy
	sigs      *fidelity.Fidelity[signature.Signature]
	executor  signature.Signature
	rp        *data.RequestPath
	principal []byte
	txn       string
	provider  string

	status atomic.Int32
}

func (c *Core) init(gen naming.Generator, kind Kind, name string, opts []Option) {
	injected := gen != nil
	if !injected {
		gen = naming.NewSequence()
	}
	c.id = gen.NewID()
	if name == "" {
		// Without a shared generator every routine would start its own
		// sequence at zero, so the id keeps unnamed siblings distinct.
		if injected {
			name = gen.Name(string(kind))
		} else {
			name = string(kind) + "-" + c.id
		}
	}
	c.name = name
	c.kind = kind
	c.ctx = data.New(name)
	c.strat = strategy.New()
	c.sigs = fidelity.New[signature.Signature](name)
	c.executor = signature.New(defaultExecutor[kind], signature.ExertSelector)
	for _, opt := range opts {
		opt(c)
	}
}

func (c *Core) core() *Core    { return c }
func (c *Core) ID() string     { return c.id }
func (c *Core) Name() string   { return c.name }
func (c *Core) Kind() Kind     { return c.kind }
func (c *Core) String() string { return fmt.Sprintf("%s %q", c.kind, c.name) }

func (c *Core) Context() *data.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

func (c *Core) SetContext(ctx *data.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
}

func (c *Core) Strategy() *strategy.Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strat
}

func (c *Core) SetStrategy(s *strategy.Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strat = s
}

func (c *Core) Signatures() []signature.Signature {
	f := c.SignatureFidelity()
	out := make([]signature.Signature, 0, f.Len())
	for _, name := range f.Names() {
		s, _ := f.Get(name)
		out = append(out, s)
	}
	return signature.Sort(out)
}

func (c *Core) ProcessSignature() (signature.Signature, bool) {
	f := c.SignatureFidelity()
	if f.Len() == 0 {
		return signature.Signature{}, false
	}
	return f.Current(), true
}

func (c *Core) SignatureFidelity() *fidelity.Fidelity[signature.Signature] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sigs
}

func (c *Core) SetSignatureFidelity(f *fidelity.Fidelity[signature.Signature]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sigs = f
}

// AddSignature registers sig as a variant under its key.
func (c *Core) AddSignature(sig signature.Signature) {
	addVariant(c.SignatureFidelity(), sig)
}

// addVariant registers sig under its key. An unnamed signature whose
// selector is already taken by a different operation is registered under
// its full identity instead, so neither is lost.
func addVariant(f *fidelity.Fidelity[signature.Signature], sig signature.Signature) {
	key := sig.Key()
	if prev, ok := f.Get(key); ok && sig.Name == "" && prev.Identity() != sig.Identity() {
		key = sig.Identity()
	}
	f.Add(key, sig)
}

func (c *Core) Executor() signature.Signature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.executor
}

func (c *Core) SetExecutor(sig signature.Signature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executor = sig
}

func (c *Core) RequestPath() *data.RequestPath {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rp
}

func (c *Core) SetRequestPath(rp *data.RequestPath) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rp = rp
}

// Principal is an opaque token handed to the transport unmodified.
func (c *Core) Principal() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal
}

func (c *Core) SetPrincipal(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principal = p
}

func (c *Core) Txn() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.txn
}

func (c *Core) SetTxn(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txn = id
}

func (c *Core) Provider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider
}

func (c *Core) SetProvider(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = name
}

func (c *Core) Status() Status { return Status(c.status.Load()) }

func (c *Core) SetStatus(s Status) { c.status.Store(int32(s)) }

func (c *Core) Begin() error {
	for {
		cur := c.status.Load()
		if Status(cur) == Running {
			return fmt.Errorf("%s: %w", c.name, fault.ErrReentrant)
		}
		if c.status.CompareAndSwap(cur, int32(Running)) {
			return nil
		}
	}
}

// Option configures a routine at construction.
type Option func(*Core)

// WithSignatures adds sigs as selectable variants. The first becomes the
// process signature.
func WithSignatures(sigs ...signature.Signature) Option {
	return func(c *Core) {
		for _, s := range sigs {
			addVariant(c.sigs, s)
		}
	}
}

// WithContext sets the routine's data Context.
func WithContext(ctx *data.Context) Option {
	return func(c *Core) { c.ctx = ctx }
}

// WithStrategy replaces the default PUSH/SEQUENTIAL strategy.
func WithStrategy(s *strategy.Strategy) Option {
	return func(c *Core) { c.strat = s }
}

// WithReturn sets the request path extracted after execution.
func WithReturn(rp *data.RequestPath) Option {
	return func(c *Core) { c.rp = rp }
}

func WithPrincipal(p []byte) Option {
	return func(c *Core) { c.principal = p }
}

// WithExecutor overrides the default executor family.
func WithExecutor(sig signature.Signature) Option {
	return func(c *Core) { c.executor = sig }
}

// WithID fixes the routine id, for routines rebuilt from the wire.
func WithID(id string) Option {
	return func(c *Core) { c.id = id }
}
