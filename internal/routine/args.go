package routine

import (
	"fmt"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/strategy"
)

// Arg is an override applied to a routine before it executes.
type Arg interface {
	fmt.Stringer
	isArg()
}

// SetArg overrides the value at a Context path.
type SetArg struct {
	Path  string
	Value any
}

// Set returns an Arg writing v at path.
func Set(path string, v any) SetArg { return SetArg{Path: path, Value: v} }

func (a SetArg) String() string { return fmt.Sprintf("set(%s)", a.Path) }
func (SetArg) isArg()           {}

// StrategyArg merges the set fields of an override strategy.
type StrategyArg struct {
	Strategy *strategy.Strategy
}

func Override(s *strategy.Strategy) StrategyArg { return StrategyArg{Strategy: s} }

func (a StrategyArg) String() string { return fmt.Sprintf("strategy(%v)", a.Strategy) }
func (StrategyArg) isArg()           {}

// OpArg rebinds the selector of a routine's process signature. An empty
// Routine targets the routine being exerted; otherwise the named routine in
// its tree.
type OpArg struct {
	Routine  string
	Selector string
}

func Op(routineName, selector string) OpArg {
	return OpArg{Routine: routineName, Selector: selector}
}

func (a OpArg) String() string { return fmt.Sprintf("op(%s, %s)", a.Routine, a.Selector) }
func (OpArg) isArg()           {}

// FiArg selects the named signature variant, on the routine itself or on
// the named routine in its tree.
type FiArg struct {
	Routine string
	Name    string
}

func Fi(name string) FiArg { return FiArg{Name: name} }

// FiOn selects a variant on a named routine in the tree.
func FiOn(routineName, name string) FiArg { return FiArg{Routine: routineName, Name: name} }

func (a FiArg) String() string { return fmt.Sprintf("fi(%s, %s)", a.Routine, a.Name) }
func (FiArg) isArg()           {}

// TxnArg attaches a transaction token passed to the transport.
type TxnArg struct {
	ID string
}

func Txn(id string) TxnArg { return TxnArg{ID: id} }

func (a TxnArg) String() string { return fmt.Sprintf("txn(%s)", a.ID) }
func (TxnArg) isArg()           {}

// ProviderArg pins the provider name for remote dispatch.
type ProviderArg struct {
	Name string
}

func Provider(name string) ProviderArg { return ProviderArg{Name: name} }

func (a ProviderArg) String() string { return fmt.Sprintf("provider(%s)", a.Name) }
func (ProviderArg) isArg()           {}

// ReturnArg replaces the routine's request path.
type ReturnArg struct {
	Path *data.RequestPath
}

func Return(rp *data.RequestPath) ReturnArg { return ReturnArg{Path: rp} }

func (a ReturnArg) String() string { return fmt.Sprintf("return(%v)", a.Path) }
func (ReturnArg) isArg()           {}

// ContextArg appends every path of a Context into the routine's Context.
type ContextArg struct {
	Context *data.Context
}

func With(c *data.Context) ContextArg { return ContextArg{Context: c} }

func (a ContextArg) String() string { return fmt.Sprintf("context(%s)", a.Context.Name()) }
func (ContextArg) isArg()           {}
