// Package naming hands out routine ids and default names.
//
// Generators are injected where routines are built; there is no package-level
// counter, so two engines in one process never share a sequence.
package naming

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique ids and default display names.
type Generator interface {
	// NewID returns a globally unique id.
	NewID() string
	// Name returns the next default name for prefix, e.g. "task-3".
	Name(prefix string) string
}

// Sequence numbers names per prefix and uses random UUIDs for ids.
type Sequence struct {
	mu     sync.Mutex
	counts map[string]int
}

var _ Generator = (*Sequence)(nil)

func NewSequence() *Sequence {
	return &Sequence{counts: make(map[string]int)}
}

func (s *Sequence) NewID() string {
	return uuid.NewString()
}

func (s *Sequence) Name(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counts[prefix]
	s.counts[prefix] = n + 1
	return fmt.Sprintf("%s-%d", prefix, n)
}
