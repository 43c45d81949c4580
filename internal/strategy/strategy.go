// Package strategy holds the per-routine control policy consulted by the
// dispatcher: access mode, flow mode, behavior flags, the exception trace
// and execution timing.
package strategy

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Access says whether a routine is pushed to its executor or pulled from a
// shared space by a worker.
type Access int

const (
	AccessUnset Access = iota
	Push
	Pull
)

func (a Access) String() string {
	switch a {
	case Push:
		return "PUSH"
	case Pull:
		return "PULL"
	default:
		return ""
	}
}

func (a Access) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Access) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "PUSH":
		*a = Push
	case "PULL":
		*a = Pull
	case "":
		*a = AccessUnset
	default:
		return fmt.Errorf("unknown access %q", string(b))
	}
	return nil
}

// Flow says how a composite runs its children.
type Flow int

const (
	FlowUnset Flow = iota
	Sequential
	Parallel
	Conditional
)

func (f Flow) String() string {
	switch f {
	case Sequential:
		return "SEQUENTIAL"
	case Parallel:
		return "PARALLEL"
	case Conditional:
		return "CONDITIONAL"
	default:
		return ""
	}
}

func (f Flow) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Flow) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "SEQUENTIAL", "SEQ":
		*f = Sequential
	case "PARALLEL", "PAR":
		*f = Parallel
	case "CONDITIONAL":
		*f = Conditional
	case "":
		*f = FlowUnset
	default:
		return fmt.Errorf("unknown flow %q", string(b))
	}
	return nil
}

// Strategy is a routine's control policy. Zero-valued fields are unset;
// accessors apply defaults. Flags are tri-state so an override can set a
// flag to false without clobbering the ones it leaves alone.
type Strategy struct {
	Access        Access `json:"access,omitempty" yaml:"access,omitempty"`
	Flow          Flow   `json:"flow,omitempty" yaml:"flow,omitempty"`
	Monitorable   *bool  `json:"monitorable,omitempty" yaml:"monitorable,omitempty"`
	Waitable      *bool  `json:"waitable,omitempty" yaml:"waitable,omitempty"`
	Provisionable *bool  `json:"provisionable,omitempty" yaml:"provisionable,omitempty"`
	ShellRemote   *bool  `json:"shell_remote,omitempty" yaml:"shell_remote,omitempty"`
	ExecTime      *bool  `json:"exec_time,omitempty" yaml:"exec_time,omitempty"`
	// MaxParallel bounds concurrent siblings under PARALLEL flow; 0 means
	// unbounded.
	MaxParallel int `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`

	trace  *Trace
	timing *timing
}

// Bool returns a pointer to b, for setting flags.
func Bool(b bool) *bool { return &b }

// New returns a PUSH/SEQUENTIAL strategy.
func New() *Strategy {
	return &Strategy{Access: Push, Flow: Sequential}
}

// Override returns an empty strategy for use as an update source.
func Override() *Strategy { return &Strategy{} }

func (s *Strategy) WithAccess(a Access) *Strategy { s.Access = a; return s }
func (s *Strategy) WithFlow(f Flow) *Strategy     { s.Flow = f; return s }
func (s *Strategy) WithMonitorable(b bool) *Strategy {
	s.Monitorable = Bool(b)
	return s
}
func (s *Strategy) WithWaitable(b bool) *Strategy      { s.Waitable = Bool(b); return s }
func (s *Strategy) WithProvisionable(b bool) *Strategy { s.Provisionable = Bool(b); return s }
func (s *Strategy) WithShellRemote(b bool) *Strategy   { s.ShellRemote = Bool(b); return s }
func (s *Strategy) WithExecTime(b bool) *Strategy      { s.ExecTime = Bool(b); return s }
func (s *Strategy) WithMaxParallel(n int) *Strategy    { s.MaxParallel = n; return s }

// AccessMode returns the access, defaulting to PUSH.
func (s *Strategy) AccessMode() Access {
	if s.Access == AccessUnset {
		return Push
	}
	return s.Access
}

// FlowMode returns the flow, defaulting to SEQUENTIAL.
func (s *Strategy) FlowMode() Flow {
	if s.Flow == FlowUnset {
		return Sequential
	}
	return s.Flow
}

func (s *Strategy) IsMonitorable() bool   { return flag(s.Monitorable, false) }
func (s *Strategy) IsWaitable() bool      { return flag(s.Waitable, true) }
func (s *Strategy) IsProvisionable() bool { return flag(s.Provisionable, false) }
func (s *Strategy) IsShellRemote() bool   { return flag(s.ShellRemote, false) }
func (s *Strategy) IsExecTimed() bool     { return flag(s.ExecTime, false) }

func flag(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// UpdateFrom copies the fields explicitly set on other. Unset fields leave
// the receiver untouched. The trace is never copied.
func (s *Strategy) UpdateFrom(other *Strategy) {
	if other == nil {
		return
	}
	if other.Access != AccessUnset {
		s.Access = other.Access
	}
	if other.Flow != FlowUnset {
		s.Flow = other.Flow
	}
	copyFlag(&s.Monitorable, other.Monitorable)
	copyFlag(&s.Waitable, other.Waitable)
	copyFlag(&s.Provisionable, other.Provisionable)
	copyFlag(&s.ShellRemote, other.ShellRemote)
	copyFlag(&s.ExecTime, other.ExecTime)
	if other.MaxParallel > 0 {
		s.MaxParallel = other.MaxParallel
	}
}

func copyFlag(dst **bool, src *bool) {
	if src != nil {
		*dst = Bool(*src)
	}
}

// Clone copies the policy fields. The clone shares the trace and timing, so
// it can stand in for the original while substitutions are staged.
func (s *Strategy) Clone() *Strategy {
	out := &Strategy{trace: s.Trace(), timing: s.clock()}
	out.UpdateFrom(s)
	return out
}

// Trace returns the append-only exception trace.
func (s *Strategy) Trace() *Trace {
	if s.trace == nil {
		s.trace = &Trace{}
	}
	return s.trace
}

func (s *Strategy) String() string {
	return fmt.Sprintf("%s/%s monitorable=%t waitable=%t provisionable=%t",
		s.AccessMode(), s.FlowMode(), s.IsMonitorable(), s.IsWaitable(), s.IsProvisionable())
}

// Trace is an append-only list of faults in chronological order.
type Trace struct {
	mu     sync.Mutex
	faults []error
}

func (t *Trace) AddFault(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = append(t.faults, err)
}

// Faults returns a copy of the recorded faults, oldest first.
func (t *Trace) Faults() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]error, len(t.faults))
	copy(out, t.faults)
	return out
}

func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.faults)
}

// First returns the oldest fault, or nil.
func (t *Trace) First() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.faults) == 0 {
		return nil
	}
	return t.faults[0]
}

type timing struct {
	mu      sync.Mutex
	started time.Time
	elapsed time.Duration
}

func (s *Strategy) clock() *timing {
	if s.timing == nil {
		s.timing = &timing{}
	}
	return s.timing
}

// MarkStart records the start of an execution.
func (s *Strategy) MarkStart(now time.Time) {
	t := s.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = now
}

// MarkStop records the elapsed time since MarkStart.
func (s *Strategy) MarkStop(now time.Time) {
	t := s.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started.IsZero() {
		t.elapsed = now.Sub(t.started)
	}
}

// ExecDuration returns the last recorded execution time.
func (s *Strategy) ExecDuration() time.Duration {
	t := s.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// StartedAt returns when the last execution started.
func (s *Strategy) StartedAt() time.Time {
	t := s.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}
