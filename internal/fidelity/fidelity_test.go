package fidelity

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/exert/internal/fault"
)

func TestFirstAddedIsSelected(t *testing.T) {
	f := New[string]("developer")
	assert.Equal(t, "", f.Current())

	f.Add("fast", "f").Add("accurate", "a")
	assert.Equal(t, "fast", f.Selected())
	assert.Equal(t, "f", f.Current())
	assert.Equal(t, []string{"fast", "accurate"}, f.Names())
}

func TestSelectIsDeterministic(t *testing.T) {
	f := New[int]("solver")
	for i := 0; i < 5; i++ {
		f.Add(fmt.Sprintf("v%d", i), i)
	}
	for _, name := range f.Names() {
		got, err := f.Select(name)
		require.NoError(t, err)
		want, _ := f.Get(name)
		assert.Equal(t, want, got)
		assert.Equal(t, want, f.Current())

		// Reselecting is idempotent.
		again, err := f.Select(name)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
}

func TestSelectUnknownLeavesSelection(t *testing.T) {
	f := New[int]("solver").Add("a", 1).Add("b", 2)
	_, err := f.Select("b")
	require.NoError(t, err)

	_, err = f.Select("zzz")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrNoFidelity))
	var nf *fault.NoSuchFidelityFault
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "solver", nf.Fidelity)
	assert.Equal(t, "zzz", nf.Name)

	assert.Equal(t, 2, f.Current())
	assert.Equal(t, 2, f.Len())
}

func TestIndependentRoles(t *testing.T) {
	developer := New[string]("developer").Add("d1", "x").Add("d2", "y")
	finalizer := New[string]("finalizer").Add("f1", "x").Add("f2", "y")

	require.NoError(t, developer.SelectName("d2"))
	assert.Equal(t, "f1", finalizer.Selected())
}

func TestConcurrentMorphing(t *testing.T) {
	f := New[int]("m").Add("a", 1).Add("b", 2)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			name := "a"
			if i%2 == 0 {
				name = "b"
			}
			_, _ = f.Select(name)
		}(i)
		go func() {
			defer wg.Done()
			v := f.Current()
			assert.Contains(t, []int{1, 2}, v)
		}()
	}
	wg.Wait()
}

func TestCloneIsIndependent(t *testing.T) {
	f := New[int]("m").Add("a", 1).Add("b", 2)
	c := f.Clone()
	_, err := c.Select("b")
	require.NoError(t, err)
	c.Add("c", 3)

	assert.Equal(t, "a", f.Selected())
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, 2, c.Current())
}
