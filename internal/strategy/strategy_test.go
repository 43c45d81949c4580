package strategy

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := &Strategy{}
	assert.Equal(t, Push, s.AccessMode())
	assert.Equal(t, Sequential, s.FlowMode())
	assert.True(t, s.IsWaitable())
	assert.False(t, s.IsMonitorable())
	assert.False(t, s.IsProvisionable())
}

func TestUpdateFromCopiesOnlySetFields(t *testing.T) {
	s := New().WithMonitorable(true).WithWaitable(false).WithMaxParallel(4)

	s.UpdateFrom(Override().WithAccess(Pull))
	assert.Equal(t, Pull, s.AccessMode())
	assert.Equal(t, Sequential, s.FlowMode())
	assert.True(t, s.IsMonitorable())
	assert.False(t, s.IsWaitable())
	assert.Equal(t, 4, s.MaxParallel)

	// An explicit false overrides a true.
	s.UpdateFrom(Override().WithMonitorable(false))
	assert.False(t, s.IsMonitorable())
	assert.Equal(t, Pull, s.AccessMode())

	s.UpdateFrom(nil)
	assert.Equal(t, Pull, s.AccessMode())
}

func TestUpdateFromDoesNotAlias(t *testing.T) {
	src := Override().WithProvisionable(true)
	s := New()
	s.UpdateFrom(src)
	*src.Provisionable = false
	assert.True(t, s.IsProvisionable())
}

func TestTraceIsAppendOnlyAndOrdered(t *testing.T) {
	s := New()
	e1, e2 := errors.New("first"), errors.New("second")
	s.Trace().AddFault(e1)
	s.Trace().AddFault(nil)
	s.Trace().AddFault(e2)

	assert.Equal(t, []error{e1, e2}, s.Trace().Faults())
	assert.Equal(t, 2, s.Trace().Len())
	assert.Equal(t, e1, s.Trace().First())

	// Mutating the returned slice never touches the trace.
	got := s.Trace().Faults()
	got[0] = nil
	assert.Equal(t, e1, s.Trace().First())
}

func TestCloneSharesTrace(t *testing.T) {
	s := New().WithFlow(Parallel)
	c := s.Clone()
	c.Access = Pull
	c.Trace().AddFault(errors.New("boom"))

	assert.Equal(t, Push, s.AccessMode())
	assert.Equal(t, Parallel, c.FlowMode())
	assert.Equal(t, 1, s.Trace().Len())
}

func TestTiming(t *testing.T) {
	s := New().WithExecTime(true)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.MarkStart(start)
	s.MarkStop(start.Add(150 * time.Millisecond))
	assert.Equal(t, 150*time.Millisecond, s.ExecDuration())
	assert.Equal(t, start, s.StartedAt())
}

func TestJSON(t *testing.T) {
	s := New().WithAccess(Pull).WithFlow(Parallel).WithWaitable(false)
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access":"PULL","flow":"PARALLEL","waitable":false}`, string(raw))

	var back Strategy
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, Pull, back.AccessMode())
	assert.Equal(t, Parallel, back.FlowMode())
	assert.False(t, back.IsWaitable())
	assert.Nil(t, back.Monitorable)

	assert.Error(t, json.Unmarshal([]byte(`{"access":"SIDEWAYS"}`), &back))
}
