package watch

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/exert/internal/events"
)

func ev(id int64, typ, data string, at time.Time) events.Event {
	return events.Event{ID: id, Type: typ, At: at, Data: []byte(data)}
}

func TestRoutineLifecycleFolding(t *testing.T) {
	routines := make(map[string]*RoutineState)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	updateRoutineState(routines, ev(1, "routine.started", `{"routine_id":"r1","routine":"sum","kind":"Task","status":"RUNNING"}`, t0))
	require.Contains(t, routines, "r1")
	assert.Equal(t, "RUNNING", routines["r1"].Status)

	updateRoutineState(routines, ev(2, "routine.failed", `{"routine_id":"r1","routine":"sum","kind":"Task","status":"FAILED","faults":["boom"]}`, t0.Add(time.Second)))
	assert.Equal(t, "FAILED", routines["r1"].Status)
	assert.Equal(t, []string{"boom"}, routines["r1"].Faults)
	assert.Equal(t, "1s", routineDuration(routines["r1"], t0.Add(time.Hour)))

	updateRoutineState(routines, ev(3, "space.written", `{"entry_id":"e1"}`, t0))
	assert.Len(t, routines, 1)
}

func TestSortedRoutinesRunningFirst(t *testing.T) {
	t0 := time.Now()
	routines := map[string]*RoutineState{
		"a": {ID: "a", Status: "DONE", StartTime: t0.Add(2 * time.Second)},
		"b": {ID: "b", Status: "RUNNING", StartTime: t0},
		"c": {ID: "c", Status: "DONE", StartTime: t0.Add(time.Second)},
	}
	var ids []string
	for _, r := range sortedRoutines(routines) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)
}

func TestPruneKeepsRunning(t *testing.T) {
	routines := make(map[string]*RoutineState)
	t0 := time.Now()
	for i := 0; i < maxRoutines+10; i++ {
		id := strings.Repeat("x", i+1)
		routines[id] = &RoutineState{ID: id, Status: "DONE", StartTime: t0, EndTime: t0.Add(time.Duration(i))}
	}
	routines["live"] = &RoutineState{ID: "live", Status: "RUNNING", StartTime: t0}
	pruneRoutines(routines)
	assert.Len(t, routines, maxRoutines)
	assert.Contains(t, routines, "live")
}

func TestSpaceEntryFolding(t *testing.T) {
	entries := make(map[string]*EntryState)
	t0 := time.Now()

	updateSpaceState(entries, ev(1, "space.written", `{"entry_id":"e1","routine_id":"r1","routine":"sum"}`, t0))
	updateSpaceState(entries, ev(2, "space.taken", `{"entry_id":"e1","routine":"sum","worker":"w1"}`, t0))
	assert.Equal(t, "taken", entries["e1"].Status)
	assert.Equal(t, "w1", entries["e1"].Worker)

	updateSpaceState(entries, ev(3, "space.completed", `{"entry_id":"e1","status":"DONE"}`, t0))
	assert.Equal(t, "completed", entries["e1"].Status)
	assert.Equal(t, "DONE", entries["e1"].Outcome)
	assert.Equal(t, "sum", entries["e1"].Routine)
}

func TestReadSSE(t *testing.T) {
	stream := "id: 7\nevent: routine.done\ndata: {\"routine\":\"sum\"}\n\n: keep-alive\n\nid: 8\nevent: space.taken\ndata: {}\n\n"
	ch := make(chan events.Event, 4)
	readSSE(bufio.NewScanner(strings.NewReader(stream)), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, "routine.done", got[0].Type)
	assert.JSONEq(t, `{"routine":"sum"}`, string(got[0].Data))
	assert.Equal(t, "space.taken", got[1].Type)
}

func TestModelTracksLastEventID(t *testing.T) {
	m := New("http://localhost:8080", "")
	m.apply(ev(4, "routine.started", `{"routine_id":"r1","routine":"sum","kind":"Task"}`, time.Now()))
	m.apply(ev(9, "routine.done", `{"routine_id":"r1","routine":"sum","kind":"Task","status":"DONE"}`, time.Now()))
	assert.Equal(t, int64(9), m.lastID)
	assert.Len(t, m.eventLog, 2)
	assert.Equal(t, "routine.done", m.eventLog[0].Type)
	assert.Len(t, m.table.Rows(), 1)

	assert.Equal(t, "[r1] sum Task DONE", extractEventDesc(m.eventLog[0]))
}

func TestActivityKeepsRecentOutcomes(t *testing.T) {
	a := NewActivity()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a.Observe(ev(1, "routine.started", `{}`, t0), t0)
	assert.Empty(t, a.pulses)
	assert.Equal(t, t0, a.LastEvent())

	a.Observe(ev(2, "routine.done", `{}`, t0), t0)
	a.Observe(ev(3, "routine.failed", `{}`, t0), t0.Add(10*time.Second))
	require.Len(t, a.pulses, 2)
	assert.Equal(t, outcomeFailed, a.pulses[0].outcome)

	a.Decay(t0.Add(20 * time.Second))
	require.Len(t, a.pulses, 1)
	assert.Equal(t, outcomeFailed, a.pulses[0].outcome)

	for i := range activitySlots + 2 {
		a.Observe(ev(int64(10+i), "routine.done", `{}`, t0), t0.Add(20*time.Second))
	}
	assert.Len(t, a.pulses, activitySlots)
	assert.Equal(t, activitySlots, strings.Count(a.Render(NewDefaultTheme()), "●"))
}
