// Package discipline composes routines into disciplines and designs.
//
// A Discipline pairs a contextion, the routine doing the work, with a
// dispatcher, the composite that drives it (for example a Loop re-running a
// Pipeline until a condition fails). Both are held as fidelities so a
// discipline can morph between variants without being rebuilt.
//
// A Design wraps a discipline with developer, initializer and finalizer
// fidelities. Evaluate runs initializer, dispatcher and finalizer in that
// order and returns the design's output Context.
package discipline

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/fidelity"
	"github.com/mattjoyce/exert/internal/routine"
)

// ErrNoContextion is returned when a discipline has nothing to run.
var ErrNoContextion = errors.New("discipline has no contextion")

// Exerter runs a routine. *dispatch.Dispatcher satisfies it.
type Exerter interface {
	Exert(ctx context.Context, r routine.Routine, args ...routine.Arg) (routine.Routine, error)
}

// Discipline binds a contextion fidelity to a dispatcher fidelity.
type Discipline struct {
	name        string
	contextions *fidelity.Fidelity[routine.Routine]
	dispatchers *fidelity.Fidelity[routine.Routine]
}

// New creates an empty discipline.
func New(name string) *Discipline {
	return &Discipline{
		name:        name,
		contextions: fidelity.New[routine.Routine](name + "/contextion"),
		dispatchers: fidelity.New[routine.Routine](name + "/dispatcher"),
	}
}

func (d *Discipline) Name() string { return d.name }

// AddContextion registers r under name. The first one added is selected.
func (d *Discipline) AddContextion(name string, r routine.Routine) *Discipline {
	d.contextions.Add(name, r)
	return d
}

// AddDispatcher registers a driver composite under name. The driver is
// expected to contain the contextion it drives.
func (d *Discipline) AddDispatcher(name string, r routine.Routine) *Discipline {
	d.dispatchers.Add(name, r)
	return d
}

func (d *Discipline) Contextions() *fidelity.Fidelity[routine.Routine] { return d.contextions }
func (d *Discipline) Dispatchers() *fidelity.Fidelity[routine.Routine] { return d.dispatchers }

// Contextion returns the selected contextion.
func (d *Discipline) Contextion() (routine.Routine, error) {
	if d.contextions.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", d.name, ErrNoContextion)
	}
	return d.contextions.Current(), nil
}

// Driver returns the selected dispatcher, or the contextion itself when the
// discipline has no dispatcher.
func (d *Discipline) Driver() (routine.Routine, error) {
	if d.dispatchers.Len() > 0 {
		return d.dispatchers.Current(), nil
	}
	return d.Contextion()
}

// Evaluate runs the driver on the contextion's data, overlaid with in, and
// returns the driver's Context.
func (d *Discipline) Evaluate(ctx context.Context, ex Exerter, in *data.Context, args ...routine.Arg) (*data.Context, error) {
	cxtn, err := d.Contextion()
	if err != nil {
		return nil, err
	}
	drv, err := d.Driver()
	if err != nil {
		return nil, err
	}

	input := cxtn.Context().Clone()
	input.Append(in)
	if drv != cxtn {
		args = append([]routine.Arg{routine.With(input)}, args...)
	} else if in != nil {
		args = append([]routine.Arg{routine.With(in)}, args...)
	}

	if _, err := ex.Exert(ctx, drv, args...); err != nil {
		return nil, fmt.Errorf("discipline %s: %w", d.name, err)
	}
	return drv.Context(), nil
}
