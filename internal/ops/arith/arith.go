// Package arith provides the arithmetic operations served by example
// providers and used by the CLI demos. Every operation reads its operands
// from the Context paths marked as inputs, in path order.
package arith

import (
	"context"
	"fmt"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/expr"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/signature"
)

// Type is the service type the operations are registered under.
const Type = "Arith"

const (
	Add      = "add"
	Subtract = "subtract"
	Multiply = "multiply"
	Divide   = "divide"
	Average  = "average"
)

// Register binds every arithmetic operation into reg.
func Register(reg *signature.Registry) {
	reg.RegisterEval(Type, Add, fold(func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b }))
	reg.RegisterEval(Type, Subtract, fold(func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b }))
	reg.RegisterEval(Type, Multiply, fold(func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b }))
	reg.RegisterEval(Type, Divide, divide)
	reg.RegisterEval(Type, Average, average)
}

// Operands returns the numeric input values of c.
func Operands(ctx context.Context, c *data.Context) ([]any, error) {
	paths := c.InPaths()
	if len(paths) == 0 {
		return nil, fault.Failf("no input operands in context %q", c.Name())
	}
	out := make([]any, 0, len(paths))
	for _, p := range paths {
		v, err := c.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		v = expr.Normalize(v)
		switch v.(type) {
		case int64, float64:
		default:
			return nil, fault.Failf("operand %q is %T, not a number", p, v)
		}
		out = append(out, v)
	}
	return out, nil
}

// fold applies the integer op while every operand is integral and
// switches to float64 at the first float.
func fold(iop func(a, b int64) int64, fop func(a, b float64) float64) signature.EvalFunc {
	return func(ctx context.Context, c *data.Context) (any, error) {
		ops, err := Operands(ctx, c)
		if err != nil {
			return nil, err
		}
		acc := ops[0]
		for _, v := range ops[1:] {
			ai, aInt := acc.(int64)
			vi, vInt := v.(int64)
			if aInt && vInt {
				acc = iop(ai, vi)
				continue
			}
			acc = fop(toFloat(acc), toFloat(v))
		}
		return acc, nil
	}
}

func divide(ctx context.Context, c *data.Context) (any, error) {
	ops, err := Operands(ctx, c)
	if err != nil {
		return nil, err
	}
	acc := toFloat(ops[0])
	for _, v := range ops[1:] {
		d := toFloat(v)
		if d == 0 {
			return nil, fault.Failf("division by zero")
		}
		acc /= d
	}
	return acc, nil
}

func average(ctx context.Context, c *data.Context) (any, error) {
	ops, err := Operands(ctx, c)
	if err != nil {
		return nil, err
	}
	var sum float64
	for _, v := range ops {
		sum += toFloat(v)
	}
	return sum / float64(len(ops)), nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	panic(fmt.Sprintf("arith: non-numeric operand %T", v))
}
