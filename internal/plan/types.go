package plan

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/exert/internal/signature"
	"github.com/mattjoyce/exert/internal/strategy"
)

// FileSpec is one YAML file containing one or more plans.
type FileSpec struct {
	Plans []Spec `yaml:"plans"`
}

// Spec defines one named plan. Its steps run as a pipeline over Context.
type Spec struct {
	Name     string             `yaml:"name" json:"name"`
	Context  Values             `yaml:"context,omitempty" json:"context,omitempty"`
	Strategy *strategy.Strategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Timeout  time.Duration      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Steps    []StepSpec         `yaml:"steps" json:"steps"`
}

// StepSpec is one plan step. Exactly one of expr, op, call, steps,
// parallel, loop or alt must be set. When wraps any step in a condition.
type StepSpec struct {
	ID   string `yaml:"id,omitempty" json:"id,omitempty"`
	When string `yaml:"when,omitempty" json:"when,omitempty"`

	Expr       string                `yaml:"expr,omitempty" json:"expr,omitempty"`
	Op         string                `yaml:"op,omitempty" json:"op,omitempty"`
	Provider   string                `yaml:"provider,omitempty" json:"provider,omitempty"`
	Deployment *signature.Deployment `yaml:"deployment,omitempty" json:"deployment,omitempty"`
	In         Values                `yaml:"in,omitempty" json:"in,omitempty"`
	Return     string                `yaml:"return,omitempty" json:"return,omitempty"`

	Call     string     `yaml:"call,omitempty" json:"call,omitempty"`
	Steps    []StepSpec `yaml:"steps,omitempty" json:"steps,omitempty"`
	Parallel []StepSpec `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Loop     *LoopSpec  `yaml:"loop,omitempty" json:"loop,omitempty"`
	Alt      []Branch   `yaml:"alt,omitempty" json:"alt,omitempty"`

	Strategy *strategy.Strategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// LoopSpec repeats Steps while the While expression holds.
type LoopSpec struct {
	While string     `yaml:"while" json:"while"`
	Steps []StepSpec `yaml:"steps" json:"steps"`
}

// Branch is one alternative; the first branch whose If holds runs.
type Branch struct {
	If    string     `yaml:"if" json:"if"`
	Steps []StepSpec `yaml:"steps" json:"steps"`
}

// Value is one path binding. A string starting with "=" is an expression
// evaluated against the running context.
type Value struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Values is an ordered path mapping; YAML map order is kept because
// operations read their inputs in order.
type Values []Value

func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of path: value", node.Line)
	}
	out := make(Values, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var val any
		if err := node.Content[i+1].Decode(&val); err != nil {
			return fmt.Errorf("line %d: %w", node.Content[i+1].Line, err)
		}
		out = append(out, Value{Path: node.Content[i].Value, Value: val})
	}
	*v = out
	return nil
}

func (v Values) MarshalJSON() ([]byte, error) {
	return json.Marshal([]Value(v))
}

// Plan is a compiled, validated plan.
type Plan struct {
	Name   string
	Spec   Spec
	Called []string
	// Fingerprint is blake3:<hex> over the normalized spec.
	Fingerprint string
}

// Set is a compiled collection of plans keyed by name.
type Set struct {
	Plans map[string]*Plan
	// Files lists the plan files the set was loaded from.
	Files []string
}

// WalkSteps calls fn for every step in steps, depth first, including
// steps nested in loops and alternatives.
func WalkSteps(steps []StepSpec, fn func(StepSpec)) {
	for _, st := range steps {
		fn(st)
		WalkSteps(st.Steps, fn)
		WalkSteps(st.Parallel, fn)
		if st.Loop != nil {
			WalkSteps(st.Loop.Steps, fn)
		}
		for _, br := range st.Alt {
			WalkSteps(br.Steps, fn)
		}
	}
}
