package routine

import (
	"github.com/mattjoyce/exert/internal/naming"
)

// Task is a single unit of work bound to one process signature.
type Task struct {
	Core
}

// NewTask builds a task. An empty name takes the generator's next default,
// or "task-<id>" when gen is nil.
func NewTask(gen naming.Generator, name string, opts ...Option) *Task {
	t := &Task{}
	t.init(gen, KindTask, name, opts)
	return t
}

// Job runs children that keep their own Contexts; the job Context
// aggregates them in list order and links each one by child name.
type Job struct {
	Core
	children []Routine
}

func NewJob(gen naming.Generator, name string, children []Routine, opts ...Option) *Job {
	j := &Job{children: children}
	j.init(gen, KindJob, name, opts)
	return j
}

func (j *Job) Children() []Routine { return append([]Routine(nil), j.children...) }

// Add appends children.
func (j *Job) Add(rs ...Routine) { j.children = append(j.children, rs...) }

// Block runs children against the block Context: each child's Context is
// merged from the block before it runs and back into the block after.
type Block struct {
	Core
	children []Routine
}

func NewBlock(gen naming.Generator, name string, children []Routine, opts ...Option) *Block {
	b := &Block{children: children}
	b.init(gen, KindBlock, name, opts)
	return b
}

func (b *Block) Children() []Routine { return append([]Routine(nil), b.children...) }

func (b *Block) Add(rs ...Routine) { b.children = append(b.children, rs...) }

// Pipeline runs its elements against one ambient Context, each seeing the
// writes of its predecessors.
type Pipeline struct {
	Core
	children []Routine
}

func NewPipeline(gen naming.Generator, name string, elements []Routine, opts ...Option) *Pipeline {
	p := &Pipeline{children: elements}
	p.init(gen, KindPipeline, name, opts)
	return p
}

func (p *Pipeline) Children() []Routine { return append([]Routine(nil), p.children...) }

func (p *Pipeline) Add(rs ...Routine) { p.children = append(p.children, rs...) }

// Loop re-runs its body while the condition holds against the ambient
// Context. There is no iteration cap.
type Loop struct {
	Core
	cond Condition
	body Routine
}

func NewLoop(gen naming.Generator, name string, cond Condition, body Routine, opts ...Option) *Loop {
	l := &Loop{cond: cond, body: body}
	l.init(gen, KindLoop, name, opts)
	return l
}

func (l *Loop) Condition() Condition { return l.cond }
func (l *Loop) Body() Routine        { return l.body }
func (l *Loop) Children() []Routine  { return []Routine{l.body} }

// Opt runs its body once if the condition holds.
type Opt struct {
	Core
	cond Condition
	body Routine
}

func NewOpt(gen naming.Generator, name string, cond Condition, body Routine, opts ...Option) *Opt {
	o := &Opt{cond: cond, body: body}
	o.init(gen, KindOpt, name, opts)
	return o
}

func (o *Opt) Condition() Condition { return o.cond }
func (o *Opt) Body() Routine        { return o.body }
func (o *Opt) Children() []Routine  { return []Routine{o.body} }

// Alt runs the first option whose condition holds.
type Alt struct {
	Core
	options []*Opt
}

func NewAlt(gen naming.Generator, name string, options []*Opt, opts ...Option) *Alt {
	a := &Alt{options: options}
	a.init(gen, KindAlt, name, opts)
	return a
}

func (a *Alt) Options() []*Opt { return append([]*Opt(nil), a.options...) }

func (a *Alt) Children() []Routine {
	out := make([]Routine, len(a.options))
	for i, o := range a.options {
		out[i] = o
	}
	return out
}

var (
	_ Routine     = (*Task)(nil)
	_ Composite   = (*Job)(nil)
	_ Composite   = (*Block)(nil)
	_ Composite   = (*Pipeline)(nil)
	_ Conditional = (*Loop)(nil)
	_ Conditional = (*Opt)(nil)
	_ Composite   = (*Alt)(nil)
)
