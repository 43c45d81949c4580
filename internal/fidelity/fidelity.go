// Package fidelity keeps named registries of interchangeable variants with one
// active selection. Switching the selection ("morphing") is safe while other
// goroutines read the current variant.
package fidelity

import (
	"sync"

	"github.com/mattjoyce/exert/internal/fault"
)

// Fidelity is a named collection of T-typed variants plus exactly one
// selected variant once any has been added.
type Fidelity[T any] struct {
	name string

	mu       sync.RWMutex
	order    []string
	variants map[string]T
	selected string
}

func New[T any](name string) *Fidelity[T] {
	return &Fidelity[T]{name: name, variants: make(map[string]T)}
}

func (f *Fidelity[T]) Name() string { return f.name }

// Add registers v under name. The first variant added becomes the selection.
// Re-adding a name replaces its variant in place.
func (f *Fidelity[T]) Add(name string, v T) *Fidelity[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.variants[name]; !ok {
		f.order = append(f.order, name)
	}
	f.variants[name] = v
	if f.selected == "" {
		f.selected = name
	}
	return f
}

// Select makes name the current variant and returns it. An unknown name
// fails with *fault.NoSuchFidelityFault and leaves the selection unchanged.
func (f *Fidelity[T]) Select(name string) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.variants[name]
	if !ok {
		var zero T
		return zero, &fault.NoSuchFidelityFault{Fidelity: f.name, Name: name}
	}
	f.selected = name
	return v, nil
}

// Current returns the selected variant, or the zero value when empty.
func (f *Fidelity[T]) Current() T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.variants[f.selected]
}

// Selected returns the name of the selected variant.
func (f *Fidelity[T]) Selected() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.selected
}

// Get returns a variant by name without selecting it.
func (f *Fidelity[T]) Get(name string) (T, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.variants[name]
	return v, ok
}

// Names returns variant names in registration order.
func (f *Fidelity[T]) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.order...)
}

func (f *Fidelity[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.order)
}

// Has reports whether name is registered.
func (f *Fidelity[T]) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.variants[name]
	return ok
}

// Clone copies the registry and its selection. Variants are copied by value.
func (f *Fidelity[T]) Clone() *Fidelity[T] {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := New[T](f.name)
	out.order = append(out.order, f.order...)
	for k, v := range f.variants {
		out.variants[k] = v
	}
	out.selected = f.selected
	return out
}

// Selector is the non-generic view of a Fidelity, enough to morph it by name.
type Selector interface {
	Name() string
	Selected() string
	Names() []string
	Has(name string) bool
	SelectName(name string) error
}

// SelectName is Select without the variant, satisfying Selector.
func (f *Fidelity[T]) SelectName(name string) error {
	_, err := f.Select(name)
	return err
}

var _ Selector = (*Fidelity[int])(nil)
