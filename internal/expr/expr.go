// Package expr compiles expression strings such as "(x1 * x2) - (x3 + x4)"
// into an explicit AST and evaluates them against named bindings.
//
// The grammar is the Go expression grammar restricted to literals, identifiers,
// unary and binary operators, parentheses and a small set of builtin calls.
// Paths that are not valid identifiers are read with val("a/b").
// Numbers are int64 or float64; mixing the two promotes to float64.
package expr

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mattjoyce/exert/internal/fault"
)

// Lookup resolves a free variable by name.
type Lookup func(name string) (any, error)

// Evaluable is anything that can be evaluated against bindings.
type Evaluable interface {
	FreeVars() []string
	Eval(lookup Lookup) (any, error)
}

// Expression is a compiled expression.
type Expression struct {
	src  string
	node ast.Expr
	vars []string
}

var _ Evaluable = (*Expression)(nil)

// Compile parses src into an Expression.
func Compile(src string) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	node, err := parser.ParseExpr(src)
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", src, err)
	}
	e := &Expression{src: src, node: node}
	if err := validate(node); err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	e.vars = collectVars(node)
	return e, nil
}

// MustCompile is Compile that panics on error. Intended for literals in code.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expression) Source() string { return e.src }

func (e *Expression) String() string { return e.src }

// FreeVars returns the sorted names the expression reads.
func (e *Expression) FreeVars() []string {
	out := make([]string, len(e.vars))
	copy(out, e.vars)
	return out
}

// Eval evaluates the expression, resolving names through lookup.
func (e *Expression) Eval(lookup Lookup) (any, error) {
	return eval(e.node, lookup)
}

var builtins = map[string]struct{}{
	"abs": {}, "min": {}, "max": {}, "sqrt": {}, "pow": {},
	"floor": {}, "ceil": {}, "len": {}, "val": {},
}

func validate(n ast.Expr) error {
	var err error
	ast.Inspect(n, func(node ast.Node) bool {
		if err != nil {
			return false
		}
		switch x := node.(type) {
		case nil, *ast.BinaryExpr, *ast.UnaryExpr, *ast.ParenExpr, *ast.Ident, *ast.BasicLit:
		case *ast.CallExpr:
			id, ok := x.Fun.(*ast.Ident)
			if !ok {
				err = fmt.Errorf("unsupported call target")
				return false
			}
			if _, ok := builtins[id.Name]; !ok {
				err = fmt.Errorf("unknown function %q", id.Name)
				return false
			}
			if id.Name == "val" {
				if len(x.Args) != 1 {
					err = fmt.Errorf("val takes one string argument")
					return false
				}
				if lit, ok := x.Args[0].(*ast.BasicLit); !ok || lit.Kind != token.STRING {
					err = fmt.Errorf("val takes one string argument")
					return false
				}
			}
		default:
			err = fmt.Errorf("unsupported syntax %T", node)
			return false
		}
		return true
	})
	return err
}

func collectVars(n ast.Expr) []string {
	seen := map[string]struct{}{}
	ast.Inspect(n, func(node ast.Node) bool {
		switch x := node.(type) {
		case *ast.CallExpr:
			id := x.Fun.(*ast.Ident)
			if id.Name == "val" {
				p, _ := strconv.Unquote(x.Args[0].(*ast.BasicLit).Value)
				seen[p] = struct{}{}
				return false
			}
			for _, a := range x.Args {
				for _, v := range collectVars(a) {
					seen[v] = struct{}{}
				}
			}
			return false
		case *ast.Ident:
			switch x.Name {
			case "true", "false", "nil":
			default:
				seen[x.Name] = struct{}{}
			}
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func eval(n ast.Expr, lookup Lookup) (any, error) {
	switch x := n.(type) {
	case *ast.ParenExpr:
		return eval(x.X, lookup)
	case *ast.BasicLit:
		return literal(x)
	case *ast.Ident:
		switch x.Name {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		}
		v, err := lookup(x.Name)
		if err != nil {
			return nil, err
		}
		return Normalize(v), nil
	case *ast.UnaryExpr:
		v, err := eval(x.X, lookup)
		if err != nil {
			return nil, err
		}
		return unary(x.Op, v)
	case *ast.BinaryExpr:
		if x.Op == token.LAND || x.Op == token.LOR {
			return logical(x, lookup)
		}
		l, err := eval(x.X, lookup)
		if err != nil {
			return nil, err
		}
		r, err := eval(x.Y, lookup)
		if err != nil {
			return nil, err
		}
		return binary(x.Op, l, r)
	case *ast.CallExpr:
		return call(x, lookup)
	}
	return nil, fmt.Errorf("unsupported syntax %T", n)
}

func literal(lit *ast.BasicLit) (any, error) {
	switch lit.Kind {
	case token.INT:
		return strconv.ParseInt(lit.Value, 0, 64)
	case token.FLOAT:
		return strconv.ParseFloat(lit.Value, 64)
	case token.STRING, token.CHAR:
		return strconv.Unquote(lit.Value)
	}
	return nil, fmt.Errorf("unsupported literal %s", lit.Value)
}

// Normalize maps Go numeric types onto int64 or float64.
func Normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func unary(op token.Token, v any) (any, error) {
	switch op {
	case token.SUB:
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
	case token.ADD:
		if _, ok := toFloat(v); ok {
			return v, nil
		}
	case token.NOT:
		if b, ok := v.(bool); ok {
			return !b, nil
		}
	}
	return nil, fault.Failf("operator %s not defined on %T", op, v)
}

func logical(x *ast.BinaryExpr, lookup Lookup) (any, error) {
	l, err := eval(x.X, lookup)
	if err != nil {
		return nil, err
	}
	lb, ok := l.(bool)
	if !ok {
		return nil, fault.Failf("operator %s not defined on %T", x.Op, l)
	}
	if x.Op == token.LAND && !lb {
		return false, nil
	}
	if x.Op == token.LOR && lb {
		return true, nil
	}
	r, err := eval(x.Y, lookup)
	if err != nil {
		return nil, err
	}
	rb, ok := r.(bool)
	if !ok {
		return nil, fault.Failf("operator %s not defined on %T", x.Op, r)
	}
	return rb, nil
}

func binary(op token.Token, l, r any) (any, error) {
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			return stringOp(op, ls, rs)
		}
	}
	if lb, ok := l.(bool); ok {
		if rb, ok := r.(bool); ok {
			switch op {
			case token.EQL:
				return lb == rb, nil
			case token.NEQ:
				return lb != rb, nil
			}
		}
	}
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		return intOp(op, li, ri)
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if lok && rok {
		return floatOp(op, lf, rf)
	}
	if op == token.EQL {
		return l == r, nil
	}
	if op == token.NEQ {
		return l != r, nil
	}
	return nil, fault.Failf("operator %s not defined on %T and %T", op, l, r)
}

func stringOp(op token.Token, l, r string) (any, error) {
	switch op {
	case token.ADD:
		return l + r, nil
	case token.EQL:
		return l == r, nil
	case token.NEQ:
		return l != r, nil
	case token.LSS:
		return l < r, nil
	case token.LEQ:
		return l <= r, nil
	case token.GTR:
		return l > r, nil
	case token.GEQ:
		return l >= r, nil
	}
	return nil, fault.Failf("operator %s not defined on strings", op)
}

func intOp(op token.Token, l, r int64) (any, error) {
	switch op {
	case token.ADD:
		return l + r, nil
	case token.SUB:
		return l - r, nil
	case token.MUL:
		return l * r, nil
	case token.QUO:
		if r == 0 {
			return nil, fault.Failf("division by zero")
		}
		if l%r == 0 {
			return l / r, nil
		}
		return float64(l) / float64(r), nil
	case token.REM:
		if r == 0 {
			return nil, fault.Failf("division by zero")
		}
		return l % r, nil
	}
	return floatOp(op, float64(l), float64(r))
}

func floatOp(op token.Token, l, r float64) (any, error) {
	switch op {
	case token.ADD:
		return l + r, nil
	case token.SUB:
		return l - r, nil
	case token.MUL:
		return l * r, nil
	case token.QUO:
		if r == 0 {
			return nil, fault.Failf("division by zero")
		}
		return l / r, nil
	case token.EQL:
		return l == r, nil
	case token.NEQ:
		return l != r, nil
	case token.LSS:
		return l < r, nil
	case token.LEQ:
		return l <= r, nil
	case token.GTR:
		return l > r, nil
	case token.GEQ:
		return l >= r, nil
	}
	return nil, fault.Failf("operator %s not defined on numbers", op)
}

func call(x *ast.CallExpr, lookup Lookup) (any, error) {
	name := x.Fun.(*ast.Ident).Name
	if name == "val" {
		p, _ := strconv.Unquote(x.Args[0].(*ast.BasicLit).Value)
		v, err := lookup(p)
		if err != nil {
			return nil, err
		}
		return Normalize(v), nil
	}

	args := make([]any, len(x.Args))
	for i, a := range x.Args {
		v, err := eval(a, lookup)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if name == "len" {
		if len(args) != 1 {
			return nil, fault.Failf("len takes one argument")
		}
		switch v := args[0].(type) {
		case string:
			return int64(len(v)), nil
		case []any:
			return int64(len(v)), nil
		case map[string]any:
			return int64(len(v)), nil
		}
		return nil, fault.Failf("len not defined on %T", args[0])
	}

	nums := make([]float64, len(args))
	allInt := true
	for i, a := range args {
		f, ok := toFloat(a)
		if !ok {
			return nil, fault.Failf("%s: argument %d is %T, want number", name, i, a)
		}
		if _, isInt := a.(int64); !isInt {
			allInt = false
		}
		nums[i] = f
	}

	switch name {
	case "abs":
		if len(nums) != 1 {
			return nil, fault.Failf("abs takes one argument")
		}
		if allInt {
			n := args[0].(int64)
			if n < 0 {
				n = -n
			}
			return n, nil
		}
		return math.Abs(nums[0]), nil
	case "min", "max":
		if len(nums) == 0 {
			return nil, fault.Failf("%s needs at least one argument", name)
		}
		best := 0
		for i := range nums {
			if (name == "min" && nums[i] < nums[best]) || (name == "max" && nums[i] > nums[best]) {
				best = i
			}
		}
		if allInt {
			return args[best], nil
		}
		return nums[best], nil
	case "sqrt", "floor", "ceil":
		if len(nums) != 1 {
			return nil, fault.Failf("%s takes one argument", name)
		}
		switch name {
		case "sqrt":
			return math.Sqrt(nums[0]), nil
		case "floor":
			return math.Floor(nums[0]), nil
		default:
			return math.Ceil(nums[0]), nil
		}
	case "pow":
		if len(nums) != 2 {
			return nil, fault.Failf("pow takes two arguments")
		}
		return math.Pow(nums[0], nums[1]), nil
	}
	return nil, fmt.Errorf("unknown function %q", name)
}
