package routine

import (
	"context"
	"fmt"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/expr"
	"github.com/mattjoyce/exert/internal/fault"
)

// Condition is a predicate over the ambient Context.
type Condition interface {
	Holds(ctx context.Context, c *data.Context) (bool, error)
}

// CondFunc adapts a function to Condition.
type CondFunc func(ctx context.Context, c *data.Context) (bool, error)

func (f CondFunc) Holds(ctx context.Context, c *data.Context) (bool, error) {
	return f(ctx, c)
}

type exprCondition struct {
	e *expr.Expression
}

// When compiles src into a Condition. The expression must yield a bool.
func When(src string) (Condition, error) {
	e, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("condition: %w", err)
	}
	return &exprCondition{e: e}, nil
}

// MustWhen is When for literals in code.
func MustWhen(src string) Condition {
	c, err := When(src)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *exprCondition) Holds(ctx context.Context, in *data.Context) (bool, error) {
	v, err := c.e.Eval(func(name string) (any, error) {
		return in.Get(ctx, name)
	})
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fault.Failf("condition %q yielded %T, want bool", c.e.Source(), v)
	}
	return b, nil
}

func (c *exprCondition) String() string { return c.e.Source() }

// Source returns the expression text of a condition built by When, or "".
func Source(c Condition) string {
	if ec, ok := c.(*exprCondition); ok {
		return ec.e.Source()
	}
	return ""
}
