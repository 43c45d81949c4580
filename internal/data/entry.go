package data

import (
	"context"
	"fmt"
	"sync"

	"github.com/mattjoyce/exert/internal/expr"
	"github.com/mattjoyce/exert/internal/fault"
)

// Evaluator produces the value of a deferred entry. in holds exactly the
// entry's free variables, already resolved.
type Evaluator interface {
	Evaluate(ctx context.Context, in *Context) (any, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, in *Context) (any, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, in *Context) (any, error) {
	return f(ctx, in)
}

// Entry is a named, lazily evaluated binding. Dependencies are resolved by
// name at evaluation time; cycles are not detected.
type Entry struct {
	name       string
	eval       Evaluator
	vars       []string
	scope      *Context
	persistent bool

	mu     sync.Mutex
	cached bool
	value  any
	handle string
}

// NewEntry builds an entry over an arbitrary evaluator.
func NewEntry(name string, eval Evaluator, vars ...string) *Entry {
	return &Entry{name: name, eval: eval, vars: append([]string(nil), vars...)}
}

// Literal wraps a fixed value as an entry.
func Literal(name string, v any) *Entry {
	return NewEntry(name, EvaluatorFunc(func(context.Context, *Context) (any, error) {
		return v, nil
	}))
}

// Lambda wraps a registered pure function. vars names what fn reads from in.
func Lambda(name string, fn func(ctx context.Context, in *Context) (any, error), vars ...string) *Entry {
	return NewEntry(name, EvaluatorFunc(fn), vars...)
}

// Expr compiles src into an expression entry. Free variables come from the
// expression itself.
func Expr(name, src string) (*Entry, error) {
	e, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", name, err)
	}
	return NewEntry(name, Evaluable(e), e.FreeVars()...), nil
}

// MustExpr is Expr for literals in code.
func MustExpr(name, src string) *Entry {
	e, err := Expr(name, src)
	if err != nil {
		panic(err)
	}
	return e
}

// Script compiles a Go script body into an entry; see expr.CompileScript.
func Script(name, src string, vars ...string) (*Entry, error) {
	s, err := expr.CompileScript(src, vars...)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", name, err)
	}
	return NewEntry(name, Evaluable(s), s.FreeVars()...), nil
}

// Evaluable adapts a compiled expression or script to Evaluator.
func Evaluable(e expr.Evaluable) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, in *Context) (any, error) {
		return e.Eval(func(name string) (any, error) {
			return in.Get(ctx, name)
		})
	})
}

// WithScope binds the entry to scope; its free variables resolve there
// instead of in the enclosing Context.
func (e *Entry) WithScope(scope *Context) *Entry {
	e.scope = scope
	return e
}

// Persistent marks the entry so its first computed value is cached.
func (e *Entry) Persistent() *Entry {
	e.persistent = true
	return e
}

func (e *Entry) Name() string { return e.name }

func (e *Entry) Vars() []string { return append([]string(nil), e.vars...) }

func (e *Entry) Scope() *Context { return e.scope }

func (e *Entry) IsPersistent() bool { return e.persistent }

// Handle returns the persistence handle once the value has been stored.
func (e *Entry) Handle() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

// Reset drops a cached persistent value.
func (e *Entry) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cached = false
	e.value = nil
	e.handle = ""
}

func (e *Entry) String() string {
	return fmt.Sprintf("entry(%s%v)", e.name, e.vars)
}

// evaluate computes the entry's value. owner is the Context holding the entry
// and serves as the binding source when the entry has no scope of its own.
func (e *Entry) evaluate(ctx context.Context, owner *Context) (any, error) {
	if e.persistent {
		e.mu.Lock()
		cached, value, handle := e.cached, e.value, e.handle
		e.mu.Unlock()
		if cached {
			if handle != "" && owner.persister != nil {
				v, err := owner.persister.Load(ctx, handle)
				if err != nil {
					return nil, &fault.ContextFault{Path: e.name, Err: err}
				}
				return v, nil
			}
			return value, nil
		}
	}

	source := e.scope
	if source == nil {
		source = owner
	}
	args := New(e.name + "-args")
	for _, name := range e.vars {
		v, err := source.binding(ctx, name)
		if err != nil {
			return nil, err
		}
		args.Put(name, v)
	}

	v, err := e.eval.Evaluate(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", e.name, err)
	}

	if e.persistent {
		handle := ""
		if owner.persister != nil {
			handle, err = owner.persister.Store(ctx, v)
			if err != nil {
				return nil, &fault.ContextFault{Path: e.name, Err: err}
			}
		}
		e.mu.Lock()
		e.cached, e.value, e.handle = true, v, handle
		e.mu.Unlock()
	}
	return v, nil
}
