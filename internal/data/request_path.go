package data

import (
	"context"
	"strings"
)

// SelfPath is the return path meaning "the routine itself, not a value".
const SelfPath = "self"

// RequestPath describes how to extract a routine's return value from its
// Context after execution.
type RequestPath struct {
	// ReturnPath is read directly when no OutPaths are set. With OutPaths it
	// is where the bundled result is also written.
	ReturnPath string `json:"return_path,omitempty" yaml:"return_path,omitempty"`
	// OutPaths are bundled into a fresh sub-context when more than one is
	// given; a single out path is read directly.
	OutPaths []string `json:"out_paths,omitempty" yaml:"out_paths,omitempty"`
	Self     bool     `json:"self,omitempty" yaml:"self,omitempty"`
}

// Result returns a RequestPath reading path, optionally bundling outPaths.
func Result(path string, outPaths ...string) *RequestPath {
	return &RequestPath{ReturnPath: path, OutPaths: outPaths}
}

// Self returns a RequestPath asking for the routine itself.
func Self() *RequestPath {
	return &RequestPath{Self: true}
}

// IsSelf reports whether rp asks for the whole routine rather than a value.
// A nil RequestPath is treated as self.
func (rp *RequestPath) IsSelf() bool {
	if rp == nil {
		return true
	}
	return rp.Self || strings.EqualFold(rp.ReturnPath, SelfPath) ||
		(rp.ReturnPath == "" && len(rp.OutPaths) == 0)
}

// Extract computes the value rp names from c. For a self RequestPath it
// returns c itself; callers holding the routine substitute it.
func (rp *RequestPath) Extract(ctx context.Context, c *Context) (any, error) {
	if rp.IsSelf() {
		return c, nil
	}
	switch len(rp.OutPaths) {
	case 0:
		return c.Get(ctx, rp.ReturnPath)
	case 1:
		v, err := c.Get(ctx, rp.OutPaths[0])
		if err != nil {
			return nil, err
		}
		if rp.ReturnPath != "" {
			c.Put(rp.ReturnPath, v)
		}
		return v, nil
	default:
		sub, err := c.Subcontext(ctx, rp.OutPaths...)
		if err != nil {
			return nil, err
		}
		if rp.ReturnPath != "" {
			c.Put(rp.ReturnPath, sub)
		}
		return sub, nil
	}
}

// Clone returns an independent copy.
func (rp *RequestPath) Clone() *RequestPath {
	if rp == nil {
		return nil
	}
	out := *rp
	out.OutPaths = append([]string(nil), rp.OutPaths...)
	return &out
}
