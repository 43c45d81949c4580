// Package data holds the hierarchical Context routines read and write.
//
// A Context is an ordered path → value map. Values are plain values, nested
// Contexts or deferred Entries that are evaluated on read. Paths address
// nested Contexts and named links with "/" separators: "a/b/c" is first tried
// as a literal key, then resolved through the longest prefix that names a
// nested Context or a link.
//
// A Context is owned by one routine at a time and is not safe for concurrent
// mutation. Composites hand ownership to each child in turn; parallel siblings
// work on clones.
package data

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/exert/internal/fault"
)

// Direction marks a path as an input, an output or both.
type Direction int

const (
	DirNone Direction = iota
	DirIn
	DirOut
	DirInOut
)

func (d Direction) String() string {
	switch d {
	case DirIn:
		return "in"
	case DirOut:
		return "out"
	case DirInOut:
		return "inout"
	default:
		return ""
	}
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) Direction {
	switch strings.ToLower(s) {
	case "in":
		return DirIn
	case "out":
		return DirOut
	case "inout":
		return DirInOut
	default:
		return DirNone
	}
}

// Persister stores values of persistent entries outside the Context.
type Persister interface {
	Store(ctx context.Context, v any) (string, error)
	Load(ctx context.Context, handle string) (any, error)
}

// Context is an ordered, path-addressed data container.
type Context struct {
	name string
	keys []string
	vals map[string]any
	dirs map[string]Direction

	scope     *Context
	links     map[string]*Context
	linkOrder []string
	persister Persister

	finalized bool
	retVal    any

	tracking bool
	written  []string
	wset     map[string]struct{}
}

// New returns an empty Context.
func New(name string) *Context {
	return &Context{
		name: name,
		vals: make(map[string]any),
		dirs: make(map[string]Direction),
	}
}

// From builds a Context from alternating path, value pairs.
func From(name string, kv ...any) *Context {
	if len(kv)%2 != 0 {
		panic("data.From: odd number of arguments")
	}
	c := New(name)
	for i := 0; i < len(kv); i += 2 {
		c.Put(kv[i].(string), kv[i+1])
	}
	return c
}

func (c *Context) Name() string        { return c.name }
func (c *Context) SetName(name string) { c.name = name }

// Len returns the number of top-level paths.
func (c *Context) Len() int { return len(c.keys) }

// Paths returns the top-level paths in insertion order.
func (c *Context) Paths() []string {
	return append([]string(nil), c.keys...)
}

// Has reports whether path resolves, without evaluating entries.
func (c *Context) Has(path string) bool {
	_, _, ok := c.lookup(path)
	return ok
}

// Value returns the raw value at path. Deferred entries are returned
// unevaluated.
func (c *Context) Value(path string) (any, bool) {
	v, _, ok := c.lookup(path)
	return v, ok
}

// Get returns the value at path, evaluating a deferred entry if one is stored
// there. A path that does not resolve fails with *fault.ContextFault.
func (c *Context) Get(ctx context.Context, path string) (any, error) {
	v, owner, ok := c.lookup(path)
	if !ok {
		return nil, fault.Missing(path)
	}
	if e, ok := v.(*Entry); ok {
		return e.evaluate(ctx, owner)
	}
	return v, nil
}

func (c *Context) lookup(path string) (any, *Context, bool) {
	if v, ok := c.vals[path]; ok {
		return v, c, true
	}
	parts := strings.Split(path, "/")
	for i := len(parts) - 1; i > 0; i-- {
		prefix := strings.Join(parts[:i], "/")
		rest := strings.Join(parts[i:], "/")
		if nested, ok := c.vals[prefix].(*Context); ok {
			if v, owner, ok := nested.lookup(rest); ok {
				return v, owner, true
			}
		}
		if linked, ok := c.links[prefix]; ok {
			if v, owner, ok := linked.lookup(rest); ok {
				return v, owner, true
			}
		}
	}
	return nil, nil, false
}

// binding resolves a free variable for entry evaluation: this Context first,
// then up its scope chain.
func (c *Context) binding(ctx context.Context, name string) (any, error) {
	for s := c; s != nil; s = s.scope {
		if s.Has(name) {
			return s.Get(ctx, name)
		}
	}
	return nil, fault.Missing(name)
}

// Put stores v at path, keeping the original position of an existing path.
func (c *Context) Put(path string, v any) {
	if _, ok := c.vals[path]; !ok {
		c.keys = append(c.keys, path)
	}
	c.vals[path] = v
	if c.tracking {
		if _, ok := c.wset[path]; !ok {
			c.wset[path] = struct{}{}
			c.written = append(c.written, path)
		}
	}
}

// PutIn stores v and marks path as an input.
func (c *Context) PutIn(path string, v any) {
	c.Put(path, v)
	c.Mark(path, DirIn)
}

// PutOut stores v and marks path as an output.
func (c *Context) PutOut(path string, v any) {
	c.Put(path, v)
	c.Mark(path, DirOut)
}

// Mark sets the direction of path.
func (c *Context) Mark(path string, d Direction) {
	if d == DirNone {
		delete(c.dirs, path)
		return
	}
	c.dirs[path] = d
}

func (c *Context) Direction(path string) Direction { return c.dirs[path] }

// InPaths returns paths marked In or InOut, in insertion order.
func (c *Context) InPaths() []string { return c.pathsWith(DirIn) }

// OutPaths returns paths marked Out or InOut, in insertion order.
func (c *Context) OutPaths() []string { return c.pathsWith(DirOut) }

func (c *Context) pathsWith(d Direction) []string {
	var out []string
	for _, k := range c.keys {
		if dir := c.dirs[k]; dir == d || dir == DirInOut {
			out = append(out, k)
		}
	}
	return out
}

// Remove deletes path from the top level.
func (c *Context) Remove(path string) {
	if _, ok := c.vals[path]; !ok {
		return
	}
	delete(c.vals, path)
	delete(c.dirs, path)
	for i, k := range c.keys {
		if k == path {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Append merges other into c. Later keys win; directions and links are
// carried over.
func (c *Context) Append(other *Context) {
	if other == nil || other == c {
		return
	}
	for _, k := range other.keys {
		c.Put(k, other.vals[k])
		if d, ok := other.dirs[k]; ok {
			c.dirs[k] = d
		}
	}
	for _, name := range other.linkOrder {
		c.Link(name, other.links[name])
	}
}

// Link attaches other under name without copying it.
func (c *Context) Link(name string, other *Context) {
	if c.links == nil {
		c.links = make(map[string]*Context)
	}
	if _, ok := c.links[name]; !ok {
		c.linkOrder = append(c.linkOrder, name)
	}
	c.links[name] = other
}

// LinkedContext returns the Context linked under name.
func (c *Context) LinkedContext(name string) (*Context, bool) {
	l, ok := c.links[name]
	return l, ok
}

// Links returns link names in the order they were added.
func (c *Context) Links() []string {
	return append([]string(nil), c.linkOrder...)
}

func (c *Context) IsLinked() bool { return len(c.links) > 0 }

// Subcontext returns a fresh Context holding only paths, with their values
// evaluated and their directions preserved.
func (c *Context) Subcontext(ctx context.Context, paths ...string) (*Context, error) {
	sub := New(c.name)
	for _, p := range paths {
		v, err := c.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		sub.Put(p, v)
		if d, ok := c.dirs[p]; ok {
			sub.dirs[p] = d
		}
	}
	return sub, nil
}

// Scope returns the Context that supplies bindings to deferred entries.
func (c *Context) Scope() *Context { return c.scope }

func (c *Context) SetScope(s *Context) { c.scope = s }

// SetPersister attaches the store used for persistent entries.
func (c *Context) SetPersister(p Persister) { c.persister = p }

// MarkFinalized reads path, caches it as the return value and marks the
// Context finalized. An already finalized Context returns its cached value.
func (c *Context) MarkFinalized(ctx context.Context, path string) (any, error) {
	if c.finalized {
		return c.retVal, nil
	}
	v, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	c.Finalize(v)
	return v, nil
}

// Finalize fixes v as the return value.
func (c *Context) Finalize(v any) {
	c.retVal = v
	c.finalized = true
}

// ReturnValue returns the cached return value once finalized.
func (c *Context) ReturnValue() (any, bool) {
	return c.retVal, c.finalized
}

func (c *Context) IsFinalized() bool { return c.finalized }

// ResetFinalized clears the cached return value before a re-run.
func (c *Context) ResetFinalized() {
	c.finalized = false
	c.retVal = nil
}

// TrackWrites starts recording written paths, discarding earlier records.
func (c *Context) TrackWrites() {
	c.tracking = true
	c.written = nil
	c.wset = make(map[string]struct{})
}

// Written returns the paths written since TrackWrites, in first-write order.
func (c *Context) Written() []string {
	return append([]string(nil), c.written...)
}

// Clone copies c. Nested Contexts are cloned; links and entries are shared.
// The clone is not finalized and does not track writes.
func (c *Context) Clone() *Context {
	out := New(c.name)
	for _, k := range c.keys {
		v := c.vals[k]
		if nested, ok := v.(*Context); ok {
			v = nested.Clone()
		}
		out.keys = append(out.keys, k)
		out.vals[k] = v
	}
	for k, d := range c.dirs {
		out.dirs[k] = d
	}
	for _, name := range c.linkOrder {
		out.Link(name, c.links[name])
	}
	out.scope = c.scope
	out.persister = c.persister
	return out
}

// Resolve returns a clone of c with every deferred entry replaced by its
// value. Only resolved Contexts can be encoded.
func (c *Context) Resolve(ctx context.Context) (*Context, error) {
	out := c.Clone()
	for _, k := range out.keys {
		switch v := out.vals[k].(type) {
		case *Entry:
			val, err := v.evaluate(ctx, c)
			if err != nil {
				return nil, err
			}
			out.vals[k] = val
		case *Context:
			nested, err := v.Resolve(ctx)
			if err != nil {
				return nil, err
			}
			out.vals[k] = nested
		}
	}
	return out, nil
}

// Equal reports whether two Contexts hold the same top-level raw values in
// the same order. Links, scope and finalization are ignored.
func (c *Context) Equal(other *Context) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.keys) != len(other.keys) {
		return false
	}
	for i, k := range c.keys {
		if other.keys[i] != k {
			return false
		}
		a, b := c.vals[k], other.vals[k]
		if ac, ok := a.(*Context); ok {
			bc, ok := b.(*Context)
			if !ok || !ac.Equal(bc) {
				return false
			}
			continue
		}
		if fmt.Sprint(a) != fmt.Sprint(b) {
			return false
		}
	}
	return true
}

// Snapshot returns the top-level raw values as a map, for logs and diffs.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any, len(c.keys))
	for _, k := range c.keys {
		v := c.vals[k]
		if nested, ok := v.(*Context); ok {
			v = nested.Snapshot()
		}
		out[k] = v
	}
	return out
}

func (c *Context) String() string {
	var b strings.Builder
	b.WriteString(c.name)
	b.WriteString("{")
	for i, k := range c.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, c.vals[k])
	}
	if len(c.linkOrder) > 0 {
		names := append([]string(nil), c.linkOrder...)
		sort.Strings(names)
		fmt.Fprintf(&b, " | links: %s", strings.Join(names, ","))
	}
	b.WriteString("}")
	return b.String()
}
