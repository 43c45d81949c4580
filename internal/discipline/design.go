package discipline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/fidelity"
	"github.com/mattjoyce/exert/internal/routine"
)

// ErrNoDeveloper is returned by Develop when no developer is registered.
var ErrNoDeveloper = errors.New("design has no developer")

// Initializer prepares the discipline input before dispatch.
type Initializer interface {
	Initialize(ctx context.Context, in *data.Context) error
}

// InitializerFunc adapts a function to Initializer.
type InitializerFunc func(ctx context.Context, in *data.Context) error

func (f InitializerFunc) Initialize(ctx context.Context, in *data.Context) error { return f(ctx, in) }

// Finalizer post-processes the discipline result into the design output.
type Finalizer interface {
	Finalize(ctx context.Context, result, output *data.Context) error
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, result, output *data.Context) error

func (f FinalizerFunc) Finalize(ctx context.Context, result, output *data.Context) error {
	return f(ctx, result, output)
}

// Developer develops a discipline against a development intent, e.g. by
// iterating it toward a target.
type Developer interface {
	Develop(ctx context.Context, d *Discipline, intent *data.Context) (*data.Context, error)
}

// DeveloperFunc adapts a function to Developer.
type DeveloperFunc func(ctx context.Context, d *Discipline, intent *data.Context) (*data.Context, error)

func (f DeveloperFunc) Develop(ctx context.Context, d *Discipline, intent *data.Context) (*data.Context, error) {
	return f(ctx, d, intent)
}

// Design couples a discipline with the roles that prepare and post-process
// its data. Each role is an independent fidelity.
type Design struct {
	name       string
	discipline *Discipline
	ex         Exerter

	developers   *fidelity.Fidelity[Developer]
	initializers *fidelity.Fidelity[Initializer]
	finalizers   *fidelity.Fidelity[Finalizer]

	intent    *data.Context
	devIntent *data.Context
	output    *data.Context
}

// DesignOption configures a Design.
type DesignOption func(*Design)

// WithIntent sets the discipline intent, the input Evaluate runs on.
func WithIntent(c *data.Context) DesignOption {
	return func(d *Design) { d.intent = c }
}

// WithDevelopmentIntent sets the Context handed to the developer.
func WithDevelopmentIntent(c *data.Context) DesignOption {
	return func(d *Design) { d.devIntent = c }
}

func WithDeveloper(name string, dev Developer) DesignOption {
	return func(d *Design) { d.developers.Add(name, dev) }
}

func WithInitializer(name string, in Initializer) DesignOption {
	return func(d *Design) { d.initializers.Add(name, in) }
}

func WithFinalizer(name string, fin Finalizer) DesignOption {
	return func(d *Design) { d.finalizers.Add(name, fin) }
}

// NewDesign creates a design over disc, exerted through ex.
func NewDesign(name string, disc *Discipline, ex Exerter, opts ...DesignOption) *Design {
	d := &Design{
		name:         name,
		discipline:   disc,
		ex:           ex,
		developers:   fidelity.New[Developer](name + "/developer"),
		initializers: fidelity.New[Initializer](name + "/initializer"),
		finalizers:   fidelity.New[Finalizer](name + "/finalizer"),
		output:       data.New(name),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Design) Name() string                                  { return d.name }
func (d *Design) Discipline() *Discipline                       { return d.discipline }
func (d *Design) Developers() *fidelity.Fidelity[Developer]     { return d.developers }
func (d *Design) Initializers() *fidelity.Fidelity[Initializer] { return d.initializers }
func (d *Design) Finalizers() *fidelity.Fidelity[Finalizer]     { return d.finalizers }
func (d *Design) Intent() *data.Context                         { return d.intent }

// Output returns the Context the last evaluation produced.
func (d *Design) Output() *data.Context { return d.output }

// Evaluate runs the selected initializer on a copy of in (or of the design
// intent when in is nil), then the discipline, then the selected finalizer.
// Without a finalizer the discipline result becomes the output.
func (d *Design) Evaluate(ctx context.Context, in *data.Context, args ...routine.Arg) (*data.Context, error) {
	if in == nil {
		in = d.intent
	}
	input := data.New(d.name + "/input")
	input.Append(in)

	if d.initializers.Len() > 0 {
		if err := d.initializers.Current().Initialize(ctx, input); err != nil {
			return nil, fmt.Errorf("design %s: initialize: %w", d.name, err)
		}
	}

	result, err := d.discipline.Evaluate(ctx, d.ex, input, args...)
	if err != nil {
		return nil, fmt.Errorf("design %s: %w", d.name, err)
	}

	out := data.New(d.name)
	if d.finalizers.Len() > 0 {
		if err := d.finalizers.Current().Finalize(ctx, result, out); err != nil {
			return nil, fmt.Errorf("design %s: finalize: %w", d.name, err)
		}
	} else {
		out.Append(result)
	}
	d.output = out
	return out, nil
}

// Develop hands the discipline and the development intent to the selected
// developer.
func (d *Design) Develop(ctx context.Context) (*data.Context, error) {
	if d.developers.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", d.name, ErrNoDeveloper)
	}
	out, err := d.developers.Current().Develop(ctx, d.discipline, d.devIntent)
	if err != nil {
		return nil, fmt.Errorf("design %s: develop: %w", d.name, err)
	}
	return out, nil
}
