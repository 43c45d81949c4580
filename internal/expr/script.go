package expr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mattjoyce/exert/internal/fault"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Script is Go source interpreted by yaegi. The source is either a complete
// file defining
//
//	func Eval(args map[string]interface{}) (interface{}, error)
//
// or just the body of that function. Numeric arguments arrive as int64 or
// float64.
type Script struct {
	src  string
	vars []string

	mu sync.Mutex
	fn func(map[string]interface{}) (interface{}, error)
}

var _ Evaluable = (*Script)(nil)

// CompileScript interprets src once and keeps the resulting Eval function.
// vars lists the names the script reads from args.
func CompileScript(src string, vars ...string) (*Script, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(wrapScript(src)); err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	v, err := i.Eval("main.Eval")
	if err != nil {
		return nil, fmt.Errorf("script does not define Eval: %w", err)
	}
	fn, ok := v.Interface().(func(map[string]interface{}) (interface{}, error))
	if !ok {
		return nil, fmt.Errorf("Eval has incorrect signature (expected: func(map[string]interface{}) (interface{}, error))")
	}

	names := append([]string(nil), vars...)
	sort.Strings(names)
	return &Script{src: src, vars: names, fn: fn}, nil
}

func wrapScript(src string) string {
	switch {
	case strings.Contains(src, "package main"):
		return src
	case strings.Contains(src, "func Eval("):
		return "package main\n\n" + src
	default:
		return "package main\n\nfunc Eval(args map[string]interface{}) (interface{}, error) {\n" + src + "\n}\n"
	}
}

func (s *Script) Source() string { return s.src }

func (s *Script) FreeVars() []string {
	out := make([]string, len(s.vars))
	copy(out, s.vars)
	return out
}

// Eval resolves every declared variable and calls the interpreted function.
// Calls are serialized; the interpreter is not shared-state safe.
func (s *Script) Eval(lookup Lookup) (any, error) {
	args := make(map[string]interface{}, len(s.vars))
	for _, name := range s.vars {
		v, err := lookup(name)
		if err != nil {
			return nil, err
		}
		args[name] = Normalize(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.fn(args)
	if err != nil {
		return nil, &fault.Failure{Msg: "script", Err: err}
	}
	return Normalize(out), nil
}
