// Package fault defines the fault taxonomy raised by the routine engine.
//
// Every fault type matches a package sentinel through errors.Is, so callers can
// branch on the category without type assertions:
//
//	if errors.Is(err, fault.ErrCancelled) { ... }
//
// Recoverable faults (context, substitution, fidelity, conflict and operation
// failures) move a routine to FAILED. Anything else moves it to ERROR.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrContext      = errors.New("context fault")
	ErrSubstitution = errors.New("substitution fault")
	ErrNoFidelity   = errors.New("no such fidelity")
	ErrRoutine      = errors.New("routine fault")
	ErrCancelled    = errors.New("cancelled")
	ErrConflict     = errors.New("write conflict")
	ErrFailure      = errors.New("operation failed")
	ErrReentrant    = errors.New("routine already running")
)

// ContextFault reports a missing or unreadable context path.
type ContextFault struct {
	Path string
	Err  error
}

func (e *ContextFault) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("context: path %q not found", e.Path)
	}
	return fmt.Sprintf("context: path %q: %v", e.Path, e.Err)
}

func (e *ContextFault) Unwrap() error        { return e.Err }
func (e *ContextFault) Is(target error) bool { return target == ErrContext }

// Missing returns a ContextFault for a path that does not exist.
func Missing(path string) error {
	return &ContextFault{Path: path}
}

// SubstitutionFault reports an override argument that could not be applied.
type SubstitutionFault struct {
	Arg string
	Err error
}

func (e *SubstitutionFault) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("substitution: bad argument %s", e.Arg)
	}
	return fmt.Sprintf("substitution: argument %s: %v", e.Arg, e.Err)
}

func (e *SubstitutionFault) Unwrap() error        { return e.Err }
func (e *SubstitutionFault) Is(target error) bool { return target == ErrSubstitution }

// NoSuchFidelityFault reports a selection of an unregistered variant.
type NoSuchFidelityFault struct {
	Fidelity string
	Name     string
}

func (e *NoSuchFidelityFault) Error() string {
	return fmt.Sprintf("fidelity %q: no variant named %q", e.Fidelity, e.Name)
}

func (e *NoSuchFidelityFault) Is(target error) bool { return target == ErrNoFidelity }

// CancelledFault reports a dispatch abandoned because its token was cancelled.
type CancelledFault struct {
	Routine string
	Err     error
}

func (e *CancelledFault) Error() string {
	return fmt.Sprintf("routine %q cancelled: %v", e.Routine, e.Err)
}

func (e *CancelledFault) Unwrap() error        { return e.Err }
func (e *CancelledFault) Is(target error) bool { return target == ErrCancelled }

// ConflictFault reports two parallel siblings writing the same path.
type ConflictFault struct {
	Path    string
	Writers []string
}

func (e *ConflictFault) Error() string {
	return fmt.Sprintf("path %q written concurrently by %s", e.Path, strings.Join(e.Writers, ", "))
}

func (e *ConflictFault) Is(target error) bool { return target == ErrConflict }

// Failure is a business fault raised by an operation. It is recoverable.
type Failure struct {
	Msg string
	Err error
}

func (e *Failure) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Failure) Unwrap() error        { return e.Err }
func (e *Failure) Is(target error) bool { return target == ErrFailure }

// Failf builds a Failure from a format string.
func Failf(format string, args ...any) error {
	return &Failure{Msg: fmt.Sprintf(format, args...)}
}

// RoutineFault wraps any fault surfaced while dispatching a routine.
type RoutineFault struct {
	RoutineID string
	Routine   string
	Err       error

	trace []error
}

// NewRoutineFault wraps err for the named routine. trace is copied.
func NewRoutineFault(id, name string, err error, trace []error) *RoutineFault {
	t := make([]error, len(trace))
	copy(t, trace)
	return &RoutineFault{RoutineID: id, Routine: name, Err: err, trace: t}
}

// Error includes the routine name and the first fault in its trace.
func (e *RoutineFault) Error() string {
	first := e.Err
	if len(e.trace) > 0 {
		first = e.trace[0]
	}
	return fmt.Sprintf("routine %q (%s): %v", e.Routine, e.RoutineID, first)
}

func (e *RoutineFault) Unwrap() error        { return e.Err }
func (e *RoutineFault) Is(target error) bool { return target == ErrRoutine }

// Trace returns the full exception trace recorded when the fault was raised.
func (e *RoutineFault) Trace() []error {
	out := make([]error, len(e.trace))
	copy(out, e.trace)
	return out
}

// IsRecoverable reports whether err is a business fault the caller of the
// specific operation can act on, as opposed to an infrastructure error.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) {
		return false
	}
	return errors.Is(err, ErrContext) ||
		errors.Is(err, ErrSubstitution) ||
		errors.Is(err, ErrNoFidelity) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrFailure)
}
