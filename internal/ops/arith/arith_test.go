package arith

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/exert/internal/data"
	"github.com/mattjoyce/exert/internal/fault"
	"github.com/mattjoyce/exert/internal/signature"
)

func inputs(kv ...any) *data.Context {
	c := data.New("arith")
	for i := 0; i+1 < len(kv); i += 2 {
		c.PutIn(kv[i].(string), kv[i+1])
	}
	return c
}

func TestOperations(t *testing.T) {
	reg := signature.NewRegistry()
	Register(reg)

	tests := []struct {
		name string
		sel  string
		in   *data.Context
		want any
	}{
		{name: "add ints", sel: Add, in: inputs("arg/x1", int64(20), "arg/x2", int64(80)), want: int64(100)},
		{name: "add promotes", sel: Add, in: inputs("arg/x1", int64(1), "arg/x2", 0.5), want: 1.5},
		{name: "subtract in path order", sel: Subtract, in: inputs("arg/x1", int64(10), "arg/x2", int64(4), "arg/x3", int64(1)), want: int64(5)},
		{name: "multiply", sel: Multiply, in: inputs("arg/x1", int64(10), "arg/x2", int64(50)), want: int64(500)},
		{name: "multiply go ints", sel: Multiply, in: inputs("arg/x1", 3, "arg/x2", int64(7)), want: int64(21)},
		{name: "divide", sel: Divide, in: inputs("arg/x1", int64(9), "arg/x2", int64(2)), want: 4.5},
		{name: "average", sel: Average, in: inputs("arg/x1", int64(1), "arg/x2", int64(2), "arg/x3", int64(6)), want: 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, ok := reg.Lookup(Type, tt.sel)
			require.True(t, ok)
			assert.Equal(t, signature.Evaluate, op.Capability)
			got, err := op.Eval(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOperandsIgnoreUnmarkedPaths(t *testing.T) {
	c := inputs("arg/x1", int64(2), "arg/x2", int64(3))
	c.Put("note", "not an operand")
	c.PutOut("result/value", int64(0))

	ops, err := Operands(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(3)}, ops)
}

func TestOperationFaults(t *testing.T) {
	reg := signature.NewRegistry()
	Register(reg)
	ctx := context.Background()

	div, _ := reg.Lookup(Type, Divide)
	_, err := div.Eval(ctx, inputs("arg/x1", int64(1), "arg/x2", int64(0)))
	assert.True(t, errors.Is(err, fault.ErrFailure), "division by zero should be a business fault: %v", err)

	add, _ := reg.Lookup(Type, Add)
	_, err = add.Eval(ctx, data.From("empty", "x", int64(1)))
	assert.True(t, errors.Is(err, fault.ErrFailure), "missing operands: %v", err)

	_, err = add.Eval(ctx, inputs("arg/x1", "seven"))
	assert.True(t, errors.Is(err, fault.ErrFailure), "non-numeric operand: %v", err)
}
